package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Get returns the profile row, or a defaulted profile when none exists yet
// (accounts created before the profile table gained a row for them).
func (r *Repo) Get(ctx context.Context, userID uint64) (*Profile, error) {
	var p Profile
	err := r.db.WithContext(ctx).First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Profile{UserID: userID, Plan: DefaultPlan}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Plan == "" {
		p.Plan = DefaultPlan
	}
	return &p, nil
}

// Upsert writes the editable profile fields, creating the row when missing.
// The avatar is deliberately not in the assignment set; a profile edit must
// not clobber a previously uploaded avatar (see SaveAvatarURL).
func (r *Repo) Upsert(ctx context.Context, p *Profile) error {
	p.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "age", "updated_at",
		}),
	}).Create(p).Error
}

// SaveAvatarURL records the uploaded avatar's public URL.
func (r *Repo) SaveAvatarURL(ctx context.Context, userID uint64, url string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"avatar_url", "updated_at"}),
	}).Create(&Profile{
		UserID:    userID,
		Plan:      DefaultPlan,
		AvatarURL: url,
		UpdatedAt: now,
	}).Error
}

// Plan returns the subscription tier, degrading to the free tier on any
// error since the check gates UI affordances, not billing.
func (r *Repo) Plan(ctx context.Context, userID uint64) string {
	var p Profile
	if err := r.db.WithContext(ctx).Select("plan").First(&p, "user_id = ?", userID).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[profile] plan lookup failed user=%d err=%v", userID, err)
		}
		return DefaultPlan
	}
	if p.Plan == "" {
		return DefaultPlan
	}
	return p.Plan
}

// SavePushToken upserts the push registration on the profile row.
func (r *Repo) SavePushToken(ctx context.Context, userID uint64, token string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"push_token", "push_token_updated_at", "updated_at"}),
	}).Create(&Profile{
		UserID:             userID,
		Plan:               DefaultPlan,
		PushToken:          token,
		PushTokenUpdatedAt: &now,
		UpdatedAt:          now,
	}).Error
}

func (r *Repo) PushToken(ctx context.Context, userID uint64) (string, error) {
	var p Profile
	err := r.db.WithContext(ctx).Select("push_token").First(&p, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.PushToken, nil
}

func (r *Repo) UpdateNotificationPrefs(ctx context.Context, userID uint64, prefs NotificationPreferences) error {
	blob, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"notification_prefs", "updated_at"}),
	}).Create(&Profile{
		UserID:            userID,
		Plan:              DefaultPlan,
		NotificationPrefs: string(blob),
		UpdatedAt:         now,
	}).Error
}

// SaveQuizResult marks the onboarding quiz complete and records the answers.
func (r *Repo) SaveQuizResult(ctx context.Context, userID uint64, answers map[string]string) error {
	blob, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	now := time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quiz_completed", "quiz_answers", "updated_at"}),
	}).Create(&Profile{
		UserID:        userID,
		Plan:          DefaultPlan,
		QuizCompleted: true,
		QuizAnswers:   string(blob),
		UpdatedAt:     now,
	}).Error
}
