package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"bedrock-relay/internal/domain"
)

// Stream formats accepted in server.stream_format.
const (
	FormatRaw = "raw"
	FormatSSE = "sse"
)

// frameWriter encodes relay output for one response. Every write is
// flushed so the client sees fragments as they arrive.
type frameWriter interface {
	fragment(text string) error
	done(usage *domain.Usage) error
	fail(detail string) error
}

func newFrameWriter(format string, w http.ResponseWriter) frameWriter {
	f := flushWriter{w: w}
	f.flusher, _ = w.(http.Flusher)
	if format == FormatSSE {
		return &sseFrames{out: f}
	}
	return &rawFrames{out: f}
}

type flushWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (f flushWriter) write(p []byte) error {
	if _, err := f.w.Write(p); err != nil {
		return err
	}
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}

// rawFrames writes fragment text verbatim with no terminal marker. A failed
// stream simply ends.
type rawFrames struct{ out flushWriter }

func (r *rawFrames) fragment(text string) error { return r.out.write([]byte(text)) }
func (r *rawFrames) done(*domain.Usage) error    { return nil }
func (r *rawFrames) fail(string) error           { return nil }

// sseFrames writes Server-Sent Events: one data frame per fragment and a
// named terminal event.
type sseFrames struct{ out flushWriter }

type textFrame struct {
	Text string `json:"text"`
}

type doneFrame struct {
	Usage *domain.Usage `json:"usage,omitempty"`
}

type errorFrame struct {
	Detail string `json:"detail"`
}

func (s *sseFrames) fragment(text string) error {
	return s.event("", textFrame{Text: text})
}

func (s *sseFrames) done(usage *domain.Usage) error {
	return s.event("done", doneFrame{Usage: usage})
}

func (s *sseFrames) fail(detail string) error {
	return s.event("error", errorFrame{Detail: detail})
}

func (s *sseFrames) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var frame []byte
	if name != "" {
		frame = append(frame, "event: "+name+"\n"...)
	}
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return s.out.write(frame)
}
