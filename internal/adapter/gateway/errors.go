package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"bedrock-relay/internal/domain"
)

// ErrorResponse is the body of every non-streaming error.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail})
}

// failureDetail formats an upstream failure for the client, prefixed with
// its machine-readable code.
func failureDetail(err error) string {
	return fmt.Sprintf("generation failed [%s]: %v", domain.ErrorCodeOf(err), err)
}
