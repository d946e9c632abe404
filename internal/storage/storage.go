// Package storage keeps a local archive of conversations and messages in
// PostgreSQL and publishes chat views over Redis.
package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"tutorlink/chat/internal/models"
)

type Storage interface {
	SaveConversations(ctx context.Context, ownerID int64, list []models.Conversation) error
	SaveMessages(ctx context.Context, msgs []models.Message) error

	Conversations(ctx context.Context, ownerID int64) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]models.Message, error)
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService wraps already opened connections. Either may be nil.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// OpenPostgres connects to dsn and migrates the archive tables.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Conversation{}, &models.Message{}); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

// OpenRedis connects to addr and checks it answers.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return rdb, nil
}

// SaveConversations upserts the owner's summaries.
func (s *Service) SaveConversations(ctx context.Context, ownerID int64, list []models.Conversation) error {
	if len(list) == 0 {
		return nil
	}
	rows := make([]models.Conversation, len(list))
	for i, c := range list {
		c.OwnerID = ownerID
		rows[i] = c
	}

	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"partner_id", "partner_name", "last_message", "last_message_at"}),
		}).
		Create(&rows).Error
}

// SaveMessages stores messages; ones already archived are left untouched.
func (s *Service) SaveMessages(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&msgs).Error
}

// Conversations returns the owner's archived summaries, most recent first.
func (s *Service) Conversations(ctx context.Context, ownerID int64) ([]models.Conversation, error) {
	var list []models.Conversation
	err := s.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_message_at desc").
		Order("conversation_id desc").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Messages returns the archived history of one conversation, oldest first.
func (s *Service) Messages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var history []models.Message
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at asc").
		Order("id asc").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}
