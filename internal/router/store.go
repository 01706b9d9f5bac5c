package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// RequestStore handles CRUD for the notify_send_requests table.
type RequestStore struct {
	db *sql.DB
}

func NewRequestStore(db *sql.DB) *RequestStore {
	return &RequestStore{db: db}
}

// Create accepts a send request in pending state. The request is
// immutable after this point; only its status moves.
func (s *RequestStore) Create(ctx context.Context, req *SendRequest) error {
	dataJSON, err := json.Marshal(req.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notify_send_requests
		 (id, tenant_id, recipient_id, template, category, data, channels, routing, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		req.ID, req.TenantID, req.RecipientID, req.Template, req.Category,
		dataJSON, pq.Array(req.Channels), req.Method, req.Priority, RequestPending)
	return err
}

// Get loads a request by id. Returns nil, nil when unknown.
func (s *RequestStore) Get(ctx context.Context, id string) (*SendRequest, error) {
	var req SendRequest
	var dataJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, recipient_id, template, category, data, channels, routing,
		        COALESCE(priority,''), status, created_at
		FROM notify_send_requests WHERE id = $1`, id,
	).Scan(&req.ID, &req.TenantID, &req.RecipientID, &req.Template, &req.Category,
		&dataJSON, pq.Array(&req.Channels), &req.Method, &req.Priority, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(dataJSON, &req.Data); err != nil {
		return nil, fmt.Errorf("decode data for request %s: %w", id, err)
	}
	return &req, nil
}

// ClaimPending atomically claims a batch of pending requests for
// dispatch. Concurrent dispatchers skip each other's rows.
func (s *RequestStore) ClaimPending(ctx context.Context, limit int) ([]SendRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE notify_send_requests
		SET status = 'sending'
		WHERE id IN (
			SELECT id FROM notify_send_requests
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, recipient_id, template, category, data, channels, routing,
		          COALESCE(priority,''), status, created_at`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SendRequest
	for rows.Next() {
		var req SendRequest
		var dataJSON []byte
		if err := rows.Scan(&req.ID, &req.TenantID, &req.RecipientID, &req.Template, &req.Category,
			&dataJSON, pq.Array(&req.Channels), &req.Method, &req.Priority, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(dataJSON, &req.Data); err != nil {
			return nil, fmt.Errorf("decode data for request %s: %w", req.ID, err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// SetStatus records the final outcome of a dispatched request.
func (s *RequestStore) SetStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notify_send_requests SET status = $2 WHERE id = $1`, id, status)
	return err
}

// Cancel marks a request cancelled only while it is still pending,
// before any attempt has been made. Returns true when the cancel won
// the race against the dispatcher.
func (s *RequestStore) Cancel(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notify_send_requests SET status = 'cancelled'
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
