package tui

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner shows a simple text spinner
type Spinner struct {
	message string
	out     io.Writer
	animate bool

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSpinner creates a new spinner with a message. The spinner only
// animates when animate is set; otherwise it prints the message once.
func NewSpinner(out io.Writer, message string, animate bool) *Spinner {
	return &Spinner{
		message: message,
		out:     out,
		animate: animate,
		done:    make(chan struct{}),
	}
}

// Start starts the spinner animation
func (s *Spinner) Start() {
	if !s.animate {
		fmt.Fprintf(s.out, "%s...\n", s.message)
		return
	}

	frames := []string{"|", "/", "-", "\\"}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for i := 0; ; i++ {
			fmt.Fprintf(s.out, "\r%s %s", s.message, frames[i%len(frames)])
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops the spinner
func (s *Spinner) Stop() {
	s.StopWithMessage("")
}

// StopWithMessage stops the spinner and shows a final message
func (s *Spinner) StopWithMessage(message string) {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.animate {
			fmt.Fprint(s.out, "\r\033[K")
		}
		if message != "" {
			fmt.Fprintln(s.out, message)
		}
	})
}
