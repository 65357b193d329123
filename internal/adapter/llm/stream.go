package llm

import (
	"context"
	"fmt"
	"log/slog"

	"bedrock-relay/internal/domain"
)

// eventReader is the part of an SDK event stream the adapter consumes.
// *bedrockruntime.ConverseStreamEventStream and
// *bedrockagentruntime.RetrieveAndGenerateStreamEventStream both satisfy it.
type eventReader[T any] interface {
	Events() <-chan T
	Close() error
	Err() error
}

// eventKind tags a classified upstream event.
type eventKind int

const (
	eventUnrecognized eventKind = iota
	eventText
	eventUsage
	eventIgnored
)

func (k eventKind) String() string {
	switch k {
	case eventText:
		return "text"
	case eventUsage:
		return "usage"
	case eventIgnored:
		return "ignored"
	default:
		return "unrecognized"
	}
}

// classified is the result of matching one upstream event.
type classified struct {
	kind  eventKind
	text  string
	usage *domain.Usage
	label string // event name, used for logging
}

// streamSummary is reported once per stream when the pump stops.
type streamSummary struct {
	fragments int
	usage     *domain.Usage
	err       error
	outcome   domain.Outcome
}

// pump drains reader on its own goroutine and forwards text fragments in
// arrival order. The last element is a Done delta carrying usage on success
// or the mapped upstream error on failure. When ctx is cancelled the pump
// stops pulling, closes reader, and closes the channel without a terminal
// element. finish, if non-nil, is called exactly once before the channel closes.
func pump[T any](
	ctx context.Context,
	reader eventReader[T],
	buffer int,
	classify func(T) classified,
	logger *slog.Logger,
	finish func(streamSummary),
) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, buffer)

	go func() {
		defer close(ch)
		defer reader.Close()

		sum := streamSummary{}
		report := func() {
			if finish != nil {
				finish(sum)
			}
		}

		events := reader.Events()
	loop:
		for {
			select {
			case <-ctx.Done():
				sum.err, sum.outcome = ctx.Err(), domain.OutcomeCancelled
				report()
				return
			case evt, ok := <-events:
				if !ok {
					break loop
				}
				c := classify(evt)
				switch c.kind {
				case eventText:
					if c.text == "" {
						continue
					}
					select {
					case ch <- domain.StreamDelta{Content: c.text}:
						sum.fragments++
					case <-ctx.Done():
						sum.err, sum.outcome = ctx.Err(), domain.OutcomeCancelled
						report()
						return
					}
				case eventUsage:
					sum.usage = c.usage
				case eventIgnored:
					logger.Debug("upstream event ignored", "event", c.label)
				default:
					logger.Debug("upstream event unrecognized", "event", c.label, "type", fmt.Sprintf("%T", evt))
				}
			}
		}

		terminal := domain.StreamDelta{Done: true, Usage: sum.usage}
		sum.outcome = domain.OutcomeCompleted
		if err := reader.Err(); err != nil {
			sum.err = fmt.Errorf("%w: %w", domain.ErrStreamInterrupted, mapBedrockError(err))
			sum.outcome = domain.OutcomeFailed
			terminal.Err = sum.err
		}

		select {
		case ch <- terminal:
		case <-ctx.Done():
			sum.err, sum.outcome = ctx.Err(), domain.OutcomeCancelled
		}
		report()
	}()

	return ch
}
