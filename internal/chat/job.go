package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// WatchJob is a queued reply watch: after a user message was accepted by the
// chat backend, a worker polls the conversation for the bot's reply and
// notifies the user's device when it lands.
type WatchJob struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID         uint64 `gorm:"index:uniq_user_idempo,unique;not null"`
	ExternalID     string `gorm:"size:64;not null"`
	ConversationID string `gorm:"size:64;not null"`

	// ids already visible when the watch was enqueued, JSON array; a reply
	// counts only if it is not in this set
	SeenIDs string `gorm:"type:text"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded; empty when the watch budget expired without
	// a reply
	ReplyText *string `gorm:"type:text"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WatchJob) TableName() string { return "reply_watch_jobs" }
