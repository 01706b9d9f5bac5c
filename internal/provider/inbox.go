package provider

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// InboxProvider writes in-app inbox messages straight to the database.
// The inbox channel has no external vendor; delivery is the insert
// itself, so a successful write is immediately "delivered".
type InboxProvider struct {
	db *sql.DB
}

func NewInboxProvider(db *sql.DB) *InboxProvider {
	return &InboxProvider{db: db}
}

func (p *InboxProvider) Name() string    { return "inbox" }
func (p *InboxProvider) Channel() string { return "inbox" }

func (p *InboxProvider) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	id := uuid.New().String()
	dataJSON, err := json.Marshal(msg.Data)
	if err != nil {
		return nil, err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO notify_inbox_messages (id, recipient_id, request_id, template, subject, body, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		id, msg.RecipientID, msg.RequestID, msg.Template, msg.Subject, msg.Body, dataJSON)
	if err != nil {
		return &SendResult{Success: false, Provider: "inbox", Error: err}, nil
	}
	return &SendResult{
		Success:           true,
		Provider:          "inbox",
		ProviderMessageID: id,
		SentAt:            time.Now(),
	}, nil
}
