package preference

import "time"

// Record is the stored preference set for one recipient. A zero-value
// field means "not set"; Effective() fills gaps from the built-in
// defaults.
type Record struct {
	RecipientID     string          `json:"recipient_id"`
	Channels        map[string]bool `json:"channels"`
	Categories      map[string]bool `json:"categories"`
	DigestFrequency string          `json:"digest_frequency"`
	QuietHours      *QuietHours     `json:"quiet_hours,omitempty"`
	MaxPerDay       int             `json:"max_per_day"`
	Unsubscribed    bool            `json:"unsubscribed"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// QuietHours is a local-time window during which non-urgent sends are
// deferred. Start > End means the window wraps across midnight
// ("21:00" to "09:00"). The end boundary is exclusive.
type QuietHours struct {
	Start    string `json:"start"` // "HH:MM"
	End      string `json:"end"`   // "HH:MM"
	Timezone string `json:"timezone"`
}

// Decision is the outcome of an IsAllowed check.
type Decision struct {
	Allowed       bool       `json:"allowed"`
	Reason        string     `json:"reason,omitempty"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

// Block reasons returned in Decision.Reason.
const (
	ReasonUnsubscribed    = "unsubscribed"
	ReasonChannelDisabled = "channel_disabled"
	ReasonCategoryOff     = "category_disabled"
	ReasonQuietHours      = "quiet_hours"
	ReasonDailyCap        = "daily_cap_reached"
)

// Categories that cannot be disabled. Any stored value is overridden to
// enabled on read, and update validation forces them true regardless of
// caller input.
var RequiredCategories = map[string]bool{
	"security": true,
	"billing":  true,
}

// DefaultRecord returns the built-in defaults applied underneath stored
// preferences: all channels and categories enabled, no quiet hours, no
// daily cap.
func DefaultRecord(recipientID string) *Record {
	return &Record{
		RecipientID:     recipientID,
		Channels:        map[string]bool{},
		Categories:      map[string]bool{},
		DigestFrequency: "immediate",
		MaxPerDay:       0, // 0 = uncapped
	}
}

// channelEnabled treats missing entries as enabled; only an explicit
// false disables a channel.
func (r *Record) channelEnabled(channel string) bool {
	if r.Channels == nil {
		return true
	}
	enabled, ok := r.Channels[channel]
	return !ok || enabled
}

func (r *Record) categoryEnabled(category string) bool {
	if RequiredCategories[category] {
		return true
	}
	if r.Categories == nil {
		return true
	}
	enabled, ok := r.Categories[category]
	return !ok || enabled
}
