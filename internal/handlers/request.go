package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/services"
)

const maxJSONBody = 1_048_576

// decodeJSON reads exactly one JSON object from the body into dst and
// writes the error response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return true
		}
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		services.SendErrorResponse(w, "Invalid "+name, http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

func actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return userID, true
}

// stepUpFields are accepted on every request that may need step-up.
type stepUpFields struct {
	Confirmed  bool   `json:"confirmed"`
	GrantToken string `json:"grant_token,omitempty" validate:"omitempty,uuid"`
}

func (s stepUpFields) auth() services.Authorization {
	return services.Authorization{Confirmed: s.Confirmed, GrantToken: s.GrantToken}
}
