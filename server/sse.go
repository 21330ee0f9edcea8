package server

import (
	"context"
	"errors"
	"net/http"
)

// sseSink streams encoded frames to an HTTP response, flushing after every
// frame so partial output reaches the client incrementally. It implements
// stream.Sink.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSESink prepares w for server-sent events and returns the sink. It
// fails when the ResponseWriter cannot flush, since buffered SSE defeats the
// point of streaming.
func newSSESink(w http.ResponseWriter) (*sseSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseSink{w: w, flusher: flusher}, nil
}

// Send writes one frame and flushes it. A closed connection surfaces as the
// write error, which the pipeline treats as a transport failure.
func (s *sseSink) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
