package chat

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateJob(ctx context.Context, job *WatchJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*WatchJob, error) {
	var j WatchJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&WatchJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

// MarkJobSucceeded records the watch outcome. replyText is empty when the
// budget expired without a reply; that still counts as success, the reply
// is presumed delayed.
func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, replyText string) error {
	var reply *string
	if replyText != "" {
		reply = &replyText
	}
	return r.db.WithContext(ctx).Model(&WatchJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobSucceeded,
			"reply_text": reply,
			"error":      nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&WatchJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     JobFailed,
			"error":      errMsg,
			"reply_text": nil,
		}).Error
}

func (r *Repo) GetJobByUserAndIdempotencyKey(ctx context.Context, userID uint64, key string) (*WatchJob, error) {
	var job WatchJob
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (user_id,
// idempotency_key) already exists it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *WatchJob) (*WatchJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByUserAndIdempotencyKey(ctx, job.UserID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// Seen id set helpers for the JSON column.

func EncodeSeen(seen map[string]struct{}) string {
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

func DecodeSeen(blob string) map[string]struct{} {
	seen := make(map[string]struct{})
	if blob == "" {
		return seen
	}
	var ids []string
	if err := json.Unmarshal([]byte(blob), &ids); err != nil {
		return seen
	}
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return seen
}
