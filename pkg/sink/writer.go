package sink

import (
	"context"
	"io"
	"sync"

	"github.com/bft-labs/logrelay/pkg/event"
)

// Writer emits each dispatched batch as one JSON array per line on an
// io.Writer. Useful for piping relay output to stdout or a file.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter creates a writer sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Accept writes the batch followed by a newline.
func (s *Writer) Accept(ctx context.Context, batch []event.Event) error {
	if len(batch) == 0 {
		return nil
	}
	data, err := event.EncodeBatch(batch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	_, err = s.w.Write([]byte{'\n'})
	return err
}

// FlushPending is a no-op: writes complete inside Accept.
func (s *Writer) FlushPending(ctx context.Context) error { return nil }
