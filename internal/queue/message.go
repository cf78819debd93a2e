package queue

import (
	"encoding/json"
	"time"
)

// JobType identifies the kind of work a message carries. The set is
// closed: the dispatcher matches exhaustively and anything else is
// dead-lettered as a configuration fault.
type JobType string

const (
	// JobTypeAutoRefund refund orders stuck awaiting validation
	JobTypeAutoRefund JobType = "ORDER_AUTO_REFUND"
	// JobTypeExpireDP cancel orders whose down payment deadline passed
	JobTypeExpireDP JobType = "ORDER_EXPIRE_DP"
	// JobTypeStockRelease release a stock reservation
	JobTypeStockRelease JobType = "STOCK_RELEASE"
	// JobTypeNotificationSend deliver an outbound notification
	JobTypeNotificationSend JobType = "NOTIFICATION_SEND"
)

// IsValid reports whether the job type belongs to the closed set
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeAutoRefund, JobTypeExpireDP, JobTypeStockRelease, JobTypeNotificationSend:
		return true
	}
	return false
}

// Priority message priority. Only a lane preference during lease
// ordering, not a global ordering guarantee.
type Priority int8

const (
	// PriorityLow background work
	PriorityLow Priority = 0
	// PriorityNormal default priority
	PriorityNormal Priority = 1
	// PriorityHigh user facing work
	PriorityHigh Priority = 2
)

// Message durable queue message model
type Message struct {
	ID                  string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type                JobType         `gorm:"type:varchar(32);not null;index" json:"type"`
	Payload             json.RawMessage `gorm:"type:json;not null" json:"payload"`
	Priority            Priority        `gorm:"type:tinyint;not null;default:1" json:"priority"`
	RetryCount          int             `gorm:"type:int;not null;default:0" json:"retry_count"`
	MaxRetries          int             `gorm:"type:int;not null;default:3" json:"max_retries"`
	VisibleAt           time.Time       `gorm:"type:timestamp;not null;index" json:"visible_at"`
	ProcessingStartedAt *time.Time      `gorm:"type:timestamp" json:"processing_started_at,omitempty"`
	LastError           *string         `gorm:"type:varchar(1000)" json:"last_error,omitempty"`
	CreatedAt           time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

// TableName set name
func (Message) TableName() string {
	return "queue_messages"
}

// DeadLetter terminal storage for messages that exhausted retries
type DeadLetter struct {
	ID         string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       JobType         `gorm:"type:varchar(32);not null;index" json:"type"`
	Payload    json.RawMessage `gorm:"type:json;not null" json:"payload"`
	Priority   Priority        `gorm:"type:tinyint;not null;default:1" json:"priority"`
	RetryCount int             `gorm:"type:int;not null" json:"retry_count"`
	Error      string          `gorm:"type:varchar(1000);not null" json:"error"`
	EnqueuedAt time.Time       `gorm:"type:timestamp;not null" json:"enqueued_at"`
	FailedAt   time.Time       `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"failed_at"`
}

// TableName set name
func (DeadLetter) TableName() string {
	return "queue_dead_letters"
}

// Stats aggregate queue statistics. Derived, not authoritative.
type Stats struct {
	Queued            int64         `json:"queued"`
	Processing        int64         `json:"processing"`
	DeadLettered      int64         `json:"dead_lettered"`
	Completed         int64         `json:"completed"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	OldestQueuedAt    *time.Time    `json:"oldest_queued_at,omitempty"`
}
