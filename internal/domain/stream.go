package domain

// Usage reports token consumption for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamDelta is a single element of a generation stream.
//
// A stream carries any number of content deltas followed by exactly one
// terminal delta with Done set. Err on the terminal delta distinguishes a
// failed stream from a completed one.
type StreamDelta struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Err     error  `json:"-"`
}

// Failed reports whether d terminates a stream with an error.
func (d StreamDelta) Failed() bool { return d.Done && d.Err != nil }

// Outcome is the terminal state of a relayed generation.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)
