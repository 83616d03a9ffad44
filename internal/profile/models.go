package profile

import (
	"encoding/json"
	"time"
)

const DefaultPlan = "free"

// Profile is the per-user profile row, row-level upserted by the app.
type Profile struct {
	UserID             uint64 `gorm:"primaryKey" json:"-"`
	FullName           string `gorm:"type:varchar(128)" json:"full_name"`
	Age                string `gorm:"type:varchar(8)" json:"age"`
	AvatarURL          string `gorm:"type:varchar(512)" json:"avatar_url"`
	Plan               string `gorm:"type:varchar(16);not null;default:free" json:"plan"`
	PushToken          string `gorm:"type:varchar(128)" json:"-"`
	PushTokenUpdatedAt *time.Time `json:"-"`
	// JSON blobs, kept opaque at the storage layer
	NotificationPrefs string `gorm:"type:text" json:"-"`
	QuizCompleted     bool   `gorm:"not null;default:false" json:"quiz_completed"`
	QuizAnswers       string `gorm:"type:text" json:"-"`
	CreatedAt         time.Time `json:"-"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Profile) TableName() string { return "profiles" }

// NotificationPreferences mirrors the per-category toggles the app exposes.
type NotificationPreferences struct {
	Messages bool `json:"messages"`
	Updates  bool `json:"updates"`
	Promos   bool `json:"promos"`
	Vetting  bool `json:"vetting"`
}

// DefaultPreferences has everything but promos on; applies until the user
// saves their own toggles.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{Messages: true, Updates: true, Vetting: true}
}

func (p *Profile) Preferences() NotificationPreferences {
	if p.NotificationPrefs == "" {
		return DefaultPreferences()
	}
	var prefs NotificationPreferences
	if err := json.Unmarshal([]byte(p.NotificationPrefs), &prefs); err != nil {
		return DefaultPreferences()
	}
	return prefs
}
