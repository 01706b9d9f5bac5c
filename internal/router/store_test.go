package router

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	return db, mock, func() { db.Close() }
}

var requestColumns = []string{
	"id", "tenant_id", "recipient_id", "template", "category",
	"data", "channels", "routing", "priority", "status", "created_at",
}

func TestRequestStoreCreateInsertsPending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO notify_send_requests").
		WithArgs("req-1", "acme", "user-1", "welcome", "marketing",
			[]byte(`{"name":"Jo"}`), pq.Array([]string{"email", "sms"}),
			MethodSingle, "", RequestPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewRequestStore(db)
	err := store.Create(context.Background(), &SendRequest{
		ID:          "req-1",
		TenantID:    "acme",
		RecipientID: "user-1",
		Template:    "welcome",
		Category:    "marketing",
		Data:        map[string]interface{}{"name": "Jo"},
		Channels:    []string{"email", "sms"},
		Method:      MethodSingle,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRequestStoreGetUnknownReturnsNil(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM notify_send_requests WHERE id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := NewRequestStore(db)
	req, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if req != nil {
		t.Fatalf("req = %+v, want nil", req)
	}
}

func TestRequestStoreClaimPending(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(requestColumns).
		AddRow("req-1", "acme", "user-1", "welcome", "",
			[]byte(`{}`), "{email}", MethodSingle, "", RequestSending, now).
		AddRow("req-2", "acme", "user-2", "alert", "security",
			[]byte(`{"k":"v"}`), "{push,sms}", MethodAll, "high", RequestSending, now)

	mock.ExpectQuery("UPDATE notify_send_requests").
		WithArgs(50).
		WillReturnRows(rows)

	store := NewRequestStore(db)
	claimed, err := store.ClaimPending(context.Background(), 50)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d requests, want 2", len(claimed))
	}
	if claimed[0].ID != "req-1" || claimed[1].ID != "req-2" {
		t.Fatalf("claimed order: %s, %s", claimed[0].ID, claimed[1].ID)
	}
	if claimed[1].Data["k"] != "v" {
		t.Fatalf("data not decoded: %v", claimed[1].Data)
	}
	if len(claimed[1].Channels) != 2 {
		t.Fatalf("channels = %v", claimed[1].Channels)
	}
}

func TestRequestStoreCancelRace(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewRequestStore(db)

	// Still pending: the cancel wins.
	mock.ExpectExec("UPDATE notify_send_requests SET status = 'cancelled'").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.Cancel(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !ok {
		t.Fatal("cancel of pending request should succeed")
	}

	// Already claimed by the dispatcher: no row matches.
	mock.ExpectExec("UPDATE notify_send_requests SET status = 'cancelled'").
		WithArgs("req-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Cancel(context.Background(), "req-2")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Fatal("cancel after dispatch claim should report false")
	}
}
