package services

import (
	"context"
	"time"
)

// Note: LendingService implementation is in lending_service.go and custody_service.go
// Note: EligibilityResolver implementation is in eligibility.go

// KioskLending defines what the kiosk transport needs from the engine
type KioskLending interface {
	ListAvailableRooms(ctx context.Context, now time.Time) ([]RoomAvailability, error)
	Identify(ctx context.Context, code string, now time.Time) (*IdentifyResult, error)
	Borrow(ctx context.Context, code, roomCode string, now time.Time, meta RequestMeta) (*LendingData, error)
	ReturnKey(ctx context.Context, code string, now time.Time, meta RequestMeta) (*LendingData, error)
	Transfer(ctx context.Context, fromCode, toCode string, now time.Time, meta RequestMeta) (*CustodyResult, error)
	Swap(ctx context.Context, codeA, codeB string, now time.Time, meta RequestMeta) (*CustodyResult, error)
	Move(ctx context.Context, code, roomCode string, now time.Time, meta RequestMeta) (*CustodyResult, error)
}

var _ KioskLending = (*LendingService)(nil)

// Clock returns the current instant. Handlers take one so tests can pin time.
type Clock func() time.Time
