package domain

import "context"

// Default generation parameters applied when a request omits them.
const (
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 4096
)

// GenerationRequest is a single prompt forwarded to the upstream service.
type GenerationRequest struct {
	Prompt      string
	ModelID     string
	System      string
	Temperature float64
	MaxTokens   int
}

// Generator opens one upstream generation stream per call.
type Generator interface {
	// Stream opens the upstream stream. A non-nil error means nothing was
	// produced and the caller may still report a status code. Once the channel
	// is returned, every failure arrives as its terminal element.
	Stream(ctx context.Context, req GenerationRequest) (<-chan StreamDelta, error)
	// Name returns the strategy identifier (e.g., "converse", "knowledge_base").
	Name() string
}
