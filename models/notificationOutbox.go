package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/warelogic/logistics_backend/utils"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// NotificationOutbox implements the transactional outbox for user-facing
// notifications: the row is written inside the caller's DB transaction and
// published to Pub/Sub asynchronously by the dispatcher after commit.
type NotificationOutbox struct {
	ID               int        `gorm:"primary_key" json:"id"`
	UserId           int        `gorm:"index;not null" json:"user_id"`
	Type             string     `gorm:"size:100;not null" json:"type"`
	Title            string     `gorm:"size:255;not null" json:"title"`
	Message          string     `gorm:"type:text" json:"message"`
	ActionLink       string     `gorm:"size:255" json:"action_link"`
	PublishStatus    string     `gorm:"size:20;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:100" json:"pub_sub_message_id"`
	CorrelationId    string     `gorm:"size:100" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueNotificationTx writes a pending outbox row in the caller's
// transaction. Nothing is published here; the dispatcher picks it up after
// commit, so a rolled-back transition never notifies anyone.
func EnqueueNotificationTx(tx *gorm.DB, userId int, notifType, title, message, actionLink string) error {
	record := NotificationOutbox{
		UserId:        userId,
		Type:          notifType,
		Title:         title,
		Message:       message,
		ActionLink:    actionLink,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(tx.Statement.Context),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
