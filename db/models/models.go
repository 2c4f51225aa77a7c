package models

import "time"

// ChatSettings holds the per-chat switches mutated by slash commands.
// Absent rows mean defaults: auto-respond off, no transcript echo.
type ChatSettings struct {
	ChatID         string `gorm:"primaryKey;size:128"`
	AutoRespond    bool
	EchoTranscript bool
	UpdatedAt      time.Time
}

// BlockedSender is a denylisted sender id; inbound events from blocked
// senders are dropped before any processing.
type BlockedSender struct {
	SenderID  string `gorm:"primaryKey;size:128"`
	Reason    string `gorm:"size:255"`
	CreatedAt time.Time
}
