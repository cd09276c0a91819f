package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// APIResponse is the envelope of every successful REST reply. Failures are
// rendered by the error middleware.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondJSON writes data inside the envelope
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

// ParseJSONBody decodes exactly one JSON document of at most maxBytes into v.
// Unknown fields are rejected.
func ParseJSONBody(r *http.Request, v interface{}, maxBytes int64) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must hold a single JSON document")
	}
	return nil
}
