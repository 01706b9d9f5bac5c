package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"
)

// SignatureHeader carries the hex HMAC of the raw request body.
const SignatureHeader = "X-Signature"

// Handler terminates provider callbacks. Order matters: the signature
// is checked against the raw bytes before any parsing happens.
type Handler struct {
	secret   string
	deduper  Deduper
	executor *Executor

	totalReceived  int64
	totalRejected  int64
	totalDuplicate int64
}

func NewHandler(secret string, deduper Deduper, executor *Executor) *Handler {
	return &Handler{secret: secret, deduper: deduper, executor: executor}
}

// Stats returns ingest counters for the health endpoint.
func (h *Handler) Stats() map[string]int64 {
	return map[string]int64{
		"received":   atomic.LoadInt64(&h.totalReceived),
		"rejected":   atomic.LoadInt64(&h.totalRejected),
		"duplicates": atomic.LoadInt64(&h.totalDuplicate),
	}
}

// HandleEvents is mounted at POST /webhooks/events.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, body, r.Header.Get(SignatureHeader)); err != nil {
		atomic.AddInt64(&h.totalRejected, 1)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if err := h.process(r.Context(), payload.Events); err != nil {
		log.Printf("[Webhook] processing error: %v", err)
		http.Error(w, "processing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"received": true})
}

func (h *Handler) process(ctx context.Context, events []ProviderEvent) error {
	for _, ev := range events {
		atomic.AddInt64(&h.totalReceived, 1)

		marked := false
		if ev.EventID != "" && h.deduper != nil {
			first, err := h.deduper.MarkSeen(ctx, ev.EventID)
			if err != nil {
				return err
			}
			if !first {
				atomic.AddInt64(&h.totalDuplicate, 1)
				continue
			}
			marked = true
		}

		if err := h.executor.Execute(ctx, Translate(ev)); err != nil {
			// The provider will redeliver after our 500; the id must
			// not stay marked or the retry is dropped as a duplicate.
			if marked {
				if ferr := h.deduper.Forget(ctx, ev.EventID); ferr != nil {
					log.Printf("[Webhook] forget event %s: %v", ev.EventID, ferr)
				}
			}
			return err
		}
	}
	return nil
}
