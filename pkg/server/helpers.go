package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/archivahq/archiva/pkg/auth"
	"github.com/archivahq/archiva/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store errors to HTTP statuses: absence is 404,
// everything else is a 500.
func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// caller returns the authenticated claims; the auth middleware guarantees
// presence on protected routes.
func caller(r *http.Request) *auth.Claims {
	claims, _ := auth.FromContext(r.Context())
	return claims
}
