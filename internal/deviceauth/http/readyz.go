package http

import (
	"net/http"

	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
	"github.com/ikanisa/deviceauth/pkg/httpx"
	"github.com/ikanisa/deviceauth/pkg/slogx"
)

// ReadyzHandler is the readiness probe: 200 only while the database answers.
func ReadyzHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			slogx.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
