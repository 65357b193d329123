package gateway

import (
	"net/http"

	"bedrock-relay/internal/infra/config"
)

// ModelResolver maps user-facing model names to upstream ids.
type ModelResolver interface {
	Resolve(name string) string
	Entries() []config.ModelEntry
	Default() string
}

// ModelsResponse lists the model catalog.
type ModelsResponse struct {
	Models  []config.ModelEntry `json:"models"`
	Default string              `json:"default"`
}

func modelsHandler(models ModelResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		entries := models.Entries()
		if entries == nil {
			entries = []config.ModelEntry{}
		}
		writeJSON(w, http.StatusOK, ModelsResponse{Models: entries, Default: models.Default()})
	}
}
