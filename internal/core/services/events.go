package services

import (
	"context"
	"log"
	"time"
)

// Lending event routing keys
const (
	EventKeyBorrowed     = "key.borrowed"
	EventKeyReturned     = "key.returned"
	EventKeyTransferred  = "key.transferred"
	EventUserSuspended   = "user.suspended"
	EventUserUnsuspended = "user.unsuspended"
)

// EventPublisher publishes lending events after commit
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload interface{}) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, interface{}) error { return nil }

// LendingEvent is the JSON body of every lending event
type LendingEvent struct {
	Type         string    `json:"type"`
	BookingID    uint      `json:"booking_id,omitempty"`
	UserID       uint      `json:"user_id"`
	UserCode     string    `json:"user_code"`
	RoomCode     string    `json:"room_code,omitempty"`
	SlotNumber   int       `json:"slot_number,omitempty"`
	DueAt        time.Time `json:"due_at,omitempty"`
	LateMinutes  int       `json:"late_minutes,omitempty"`
	PenaltyScore int       `json:"penalty_score,omitempty"`
	Score        int       `json:"standing_score"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// publish sends an event; failures never undo a committed transaction
func publish(ctx context.Context, p EventPublisher, ev LendingEvent) {
	if p == nil {
		return
	}
	if err := p.PublishJSON(ctx, ev.Type, ev); err != nil {
		log.Printf("⚠️ Publish %s failed: %v", ev.Type, err)
	}
}
