package api

import (
	"net/http"
	"time"

	"github.com/ignite/notify-engine/internal/pkg/httputil"
)

// handleHealth reports process liveness plus the counters of every
// registered background worker.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	workers := make(map[string]map[string]int64, len(s.stats))
	for name, source := range s.stats {
		workers[name] = source()
	}
	httputil.OK(w, map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"workers": workers,
	})
}
