// Package settings persists per-chat switches and the sender blocklist
// in the relational store.
package settings

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quailyquaily/wamorph/db/models"
)

type Store struct {
	gdb *gorm.DB
}

func New(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	return &Store{gdb: gdb}, nil
}

// Get returns the chat's settings, falling back to zero-value defaults
// when no row exists yet.
func (s *Store) Get(ctx context.Context, chatID string) (models.ChatSettings, error) {
	var row models.ChatSettings
	err := s.gdb.WithContext(ctx).First(&row, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ChatSettings{ChatID: chatID}, nil
	}
	if err != nil {
		return models.ChatSettings{}, fmt.Errorf("load settings for %s: %w", chatID, err)
	}
	return row, nil
}

func (s *Store) SetAutoRespond(ctx context.Context, chatID string, enabled bool) error {
	return s.upsert(ctx, chatID, map[string]any{"auto_respond": enabled})
}

func (s *Store) SetEchoTranscript(ctx context.Context, chatID string, enabled bool) error {
	return s.upsert(ctx, chatID, map[string]any{"echo_transcript": enabled})
}

func (s *Store) upsert(ctx context.Context, chatID string, assign map[string]any) error {
	if chatID == "" {
		return fmt.Errorf("chat id is required")
	}
	err := s.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.Assignments(assign),
		}).
		Create(settingsRow(chatID, assign)).Error
	if err != nil {
		return fmt.Errorf("save settings for %s: %w", chatID, err)
	}
	return nil
}

func settingsRow(chatID string, assign map[string]any) *models.ChatSettings {
	row := &models.ChatSettings{ChatID: chatID}
	if v, ok := assign["auto_respond"].(bool); ok {
		row.AutoRespond = v
	}
	if v, ok := assign["echo_transcript"].(bool); ok {
		row.EchoTranscript = v
	}
	return row
}

func (s *Store) Block(ctx context.Context, senderID, reason string) error {
	if senderID == "" {
		return fmt.Errorf("sender id is required")
	}
	err := s.gdb.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.BlockedSender{SenderID: senderID, Reason: reason}).Error
	if err != nil {
		return fmt.Errorf("block sender %s: %w", senderID, err)
	}
	return nil
}

func (s *Store) Unblock(ctx context.Context, senderID string) error {
	err := s.gdb.WithContext(ctx).
		Delete(&models.BlockedSender{}, "sender_id = ?", senderID).Error
	if err != nil {
		return fmt.Errorf("unblock sender %s: %w", senderID, err)
	}
	return nil
}

func (s *Store) IsBlocked(ctx context.Context, senderID string) (bool, error) {
	var count int64
	err := s.gdb.WithContext(ctx).
		Model(&models.BlockedSender{}).
		Where("sender_id = ?", senderID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check blocklist for %s: %w", senderID, err)
	}
	return count > 0, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
