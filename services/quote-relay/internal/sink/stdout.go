package sink

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Stdout пишет по одной JSON-строке на событие.
type Stdout struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewStdout(w io.Writer) *Stdout {
	return &Stdout{w: bufio.NewWriter(w)}
}

func (s *Stdout) Name() string { return "stdout" }

func (s *Stdout) Write(_ context.Context, rec Record) error {
	b, err := EncodeJSON(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

func (s *Stdout) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
