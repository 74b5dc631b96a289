package services

import (
	"fmt"
	"log"
	"time"

	"gopkg.in/telebot.v3"
)

// NotificationService sends staff notifications to a Telegram chat
type NotificationService struct {
	bot     *telebot.Bot
	chat    *telebot.Chat
	loc     *time.Location
	enabled bool
}

// NewNotificationService creates a new notification service.
// An empty token or chat id disables it.
func NewNotificationService(token string, staffChatID int64, loc *time.Location) *NotificationService {
	s := &NotificationService{loc: loc}
	if loc == nil {
		s.loc = time.Local
	}
	if token == "" || staffChatID == 0 {
		return s
	}

	// send-only: no poller, no getMe round trip at startup
	b, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Offline: true,
	})
	if err != nil {
		log.Printf("⚠️ Telegram notifier disabled: %v", err)
		return s
	}

	s.bot = b
	s.chat = &telebot.Chat{ID: staffChatID}
	s.enabled = true
	return s
}

// IsEnabled checks if notification is enabled
func (s *NotificationService) IsEnabled() bool {
	return s.enabled
}

// send posts a message to the staff chat
func (s *NotificationService) send(message string) error {
	if !s.enabled {
		return nil
	}
	if _, err := s.bot.Send(s.chat, message); err != nil {
		log.Printf("⚠️ Telegram send failed: %v", err)
		return err
	}
	return nil
}

// NotifyUserSuspended แจ้งเตือนผู้ใช้ถูกระงับสิทธิ์
func (s *NotificationService) NotifyUserSuspended(code, fullName string, score int) {
	message := fmt.Sprintf(`
⛔ ระงับสิทธิ์ยืมกุญแจ

👤 ผู้ใช้: %s (%s)
📉 คะแนนคงเหลือ: %d`,
		fullName,
		code,
		score,
	)

	s.send(message)
}

// OverdueItem is one line of an overdue report
type OverdueItem struct {
	BookingID  uint
	UserCode   string
	UserName   string
	RoomCode   string
	SlotNumber int
	DueAt      time.Time
	LateMin    int
}

// NotifyOverdue sends one summary message for all overdue keys
func (s *NotificationService) NotifyOverdue(items []OverdueItem) {
	if len(items) == 0 {
		return
	}

	message := fmt.Sprintf("\n⏰ กุญแจเกินกำหนดคืน %d รายการ\n", len(items))
	for _, it := range items {
		message += fmt.Sprintf("\n🔑 ห้อง %s (ช่อง %d) #%d\n👤 %s (%s)\n📆 กำหนดคืน %s (+%d นาที)\n",
			it.RoomCode,
			it.SlotNumber,
			it.BookingID,
			it.UserName,
			it.UserCode,
			it.DueAt.In(s.loc).Format("02/01 15:04"),
			it.LateMin,
		)
	}

	s.send(message)
}

// NotifyCustodyChange sends notification for transfer/swap of a borrowed key
func (s *NotificationService) NotifyCustodyChange(action, fromCode, toCode, roomCode string) {
	message := fmt.Sprintf(`
🔄 เปลี่ยนผู้ถือกุญแจ

📌 ประเภท: %s
🔑 ห้อง: %s
👤 จาก: %s
👤 ถึง: %s`,
		action,
		roomCode,
		fromCode,
		toCode,
	)

	s.send(message)
}
