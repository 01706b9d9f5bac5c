package profile

import (
	"time"
)

// Attributes is the free-form key/value attribute map attached to a
// recipient (email, phone, push_token, plan, custom traits). Values may
// be scalars or one level of nested map.
type Attributes map[string]interface{}

// Profile is the engine-owned record for a single recipient.
type Profile struct {
	RecipientID string     `json:"recipient_id"`
	TenantID    string     `json:"tenant_id"`
	Attributes  Attributes `json:"attributes"`

	// Engine-managed fields
	Unsubscribed    bool       `json:"unsubscribed"`
	Escalated       bool       `json:"escalated"`
	EscalatedAt     *time.Time `json:"escalated_at,omitempty"`
	EscalationCount int        `json:"escalation_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String returns a scalar attribute as a string, or "" if absent or not
// a string. Dot paths ("account.plan") reach one level into nested maps.
func (a Attributes) String(key string) string {
	v, ok := a.Lookup(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Lookup resolves key against the attribute map. A single dot descends
// one level into a nested map, matching the merge depth.
func (a Attributes) Lookup(key string) (interface{}, bool) {
	if v, ok := a[key]; ok {
		return v, true
	}
	for i := 0; i < len(key); i++ {
		if key[i] != '.' {
			continue
		}
		outer, ok := a[key[:i]]
		if !ok {
			return nil, false
		}
		nested, ok := outer.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := nested[key[i+1:]]
		return v, ok
	}
	return nil, false
}

// Address returns the delivery address for a channel, or "" when the
// profile has no contact info for it. Routing skips channels with no
// address.
func (p *Profile) Address(channel string) string {
	switch channel {
	case "email":
		return p.Attributes.String("email")
	case "sms":
		return p.Attributes.String("phone")
	case "push":
		return p.Attributes.String("push_token")
	case "chat":
		return p.Attributes.String("chat_target")
	case "inbox":
		// In-app inbox is addressed by recipient id itself.
		return p.RecipientID
	}
	return ""
}

// ChannelValid reports whether the channel address is still believed
// deliverable. Hard failures flip "<channel>_valid" to false and
// routing skips the channel from then on.
func (p *Profile) ChannelValid(channel string) bool {
	v, ok := p.Attributes.Lookup(channel + "_valid")
	if !ok {
		return true
	}
	valid, isBool := v.(bool)
	return !isBool || valid
}
