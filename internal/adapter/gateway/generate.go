package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"bedrock-relay/internal/domain"
	"bedrock-relay/internal/infra/middleware"
	"bedrock-relay/internal/infra/tracer"
)

// GenerateRequest is the /generate body. Optional fields take the
// defaults in domain when omitted.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	ModelName   string   `json:"modelName"`
	System      string   `json:"system,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

func (r GenerateRequest) validate() error {
	if r.Temperature != nil && *r.Temperature < 0 {
		return fmt.Errorf("%w: temperature must not be negative", domain.ErrInvalidInput)
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return fmt.Errorf("%w: maxTokens must be positive", domain.ErrInvalidInput)
	}
	if r.MaxTokens != nil && *r.MaxTokens > math.MaxInt32 {
		return fmt.Errorf("%w: maxTokens must not exceed %d", domain.ErrInvalidInput, math.MaxInt32)
	}
	return nil
}

func (r GenerateRequest) toDomain(models ModelResolver) domain.GenerationRequest {
	req := domain.GenerationRequest{
		Prompt:      r.Prompt,
		ModelID:     models.Resolve(r.ModelName),
		System:      r.System,
		Temperature: domain.DefaultTemperature,
		MaxTokens:   domain.DefaultMaxTokens,
	}
	if r.Temperature != nil {
		req.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		req.MaxTokens = *r.MaxTokens
	}
	return req
}

// decodeBody decodes exactly one JSON value; anything after it but
// whitespace is an error.
func decodeBody(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
	}
	return errors.New("unexpected data after JSON object")
}

type generateHandler struct {
	gen     domain.Generator
	models  ModelResolver
	format  string
	maxBody int64
	metrics *Metrics
	logger  *slog.Logger
}

func (h *generateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.metrics.RequestsTotal.Add(1)

	// The pump goroutine selects on this context, so returning early for
	// any reason releases the upstream stream.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	var body GenerateRequest
	if err := decodeBody(r.Body, &body); err != nil {
		h.metrics.BadRequests.Add(1)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body too large (max %d bytes)", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := body.validate(); err != nil {
		h.metrics.BadRequests.Add(1)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := body.toDomain(h.models)
	logger := h.logger.With(
		"request_id", middleware.GetRequestID(ctx),
		"strategy", h.gen.Name(),
		"model", req.ModelID,
	)

	ctx, span := tracer.StartSpan(ctx, "relay.generate",
		trace.WithAttributes(
			tracer.StringAttr("relay.model_name", body.ModelName),
			tracer.StringAttr("relay.format", h.format),
		),
	)
	defer span.End()

	logger.Info("generation requested", "prompt_chars", len(req.Prompt))

	stream, err := h.gen.Stream(ctx, req)
	if err != nil {
		h.rejectSetup(w, span, logger, err)
		return
	}

	// Peek before committing headers so a failure before the first
	// fragment can still be reported as a status code.
	first, ok := <-stream
	if !ok {
		h.metrics.recordOutcome(domain.OutcomeCancelled)
		logger.Info("client disconnected before first fragment")
		return
	}
	if first.Failed() {
		h.rejectSetup(w, span, logger, first.Err)
		return
	}

	h.metrics.StreamsActive.Add(1)
	defer h.metrics.StreamsActive.Add(-1)

	header := w.Header()
	header.Set("Content-Type", "text/event-stream; charset=utf-8")
	header.Set("Cache-Control", "no-cache")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	frames := newFrameWriter(h.format, w)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	outcome, fragments, err := h.relay(ctx, frames, first, stream)
	h.metrics.recordOutcome(outcome)
	span.SetAttributes(
		tracer.IntAttr("relay.fragments", fragments),
		tracer.StringAttr("relay.outcome", string(outcome)),
	)

	switch outcome {
	case domain.OutcomeCompleted:
		tracer.SetOK(span)
		logger.Info("generation completed", "fragments", fragments)
	case domain.OutcomeFailed:
		tracer.RecordError(span, err)
		logger.Error("generation failed mid-stream", "fragments", fragments, "error", err)
	case domain.OutcomeCancelled:
		logger.Info("generation cancelled", "fragments", fragments, "reason", err)
	}
}

// relay forwards deltas to the client until the stream ends. first has
// already been read from stream.
func (h *generateHandler) relay(ctx context.Context, frames frameWriter, first domain.StreamDelta, stream <-chan domain.StreamDelta) (domain.Outcome, int, error) {
	fragments := 0
	d, ok := first, true
	for ; ok; d, ok = <-stream {
		switch {
		case d.Failed():
			if err := frames.fail(failureDetail(d.Err)); err != nil {
				return domain.OutcomeCancelled, fragments, err
			}
			return domain.OutcomeFailed, fragments, d.Err
		case d.Done:
			if err := frames.done(d.Usage); err != nil {
				return domain.OutcomeCancelled, fragments, err
			}
			return domain.OutcomeCompleted, fragments, nil
		default:
			if err := frames.fragment(d.Content); err != nil {
				return domain.OutcomeCancelled, fragments, err
			}
			fragments++
			h.metrics.FragmentsTotal.Add(1)
		}
	}
	// Closed without a terminal element: the context was cancelled.
	return domain.OutcomeCancelled, fragments, ctx.Err()
}

func (h *generateHandler) rejectSetup(w http.ResponseWriter, span trace.Span, logger *slog.Logger, err error) {
	h.metrics.SetupFailures.Add(1)
	tracer.RecordError(span, err)
	logger.Error("upstream setup failed",
		"code", domain.ErrorCodeOf(err),
		"retryable", domain.IsRetryableError(err),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, failureDetail(err))
}
