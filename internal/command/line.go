package command

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// LineSource reads newline-delimited control tokens from a reader (typically
// stdin) and hands them to the control loop through a submit callback, so the
// blocking read never stalls the loop itself.
type LineSource struct {
	r      io.Reader
	submit func(Command)

	wg sync.WaitGroup
}

// NewLineSource creates a line-oriented command source. Commands are delivered
// through submit in arrival order, one per accepted line.
func NewLineSource(r io.Reader, submit func(Command)) *LineSource {
	return &LineSource{r: r, submit: submit}
}

// Start begins reading lines in a dedicated goroutine. The goroutine exits
// when the reader reaches EOF or fails.
func (s *LineSource) Start() {
	s.wg.Add(1)
	go s.readLines()
}

// Wait blocks until the reader goroutine has exited.
func (s *LineSource) Wait() {
	s.wg.Wait()
}

func (s *LineSource) readLines() {
	defer s.wg.Done()

	scanner := bufio.NewScanner(s.r)
	for scanner.Scan() {
		token := strings.TrimSpace(scanner.Text())
		if token == "" {
			continue
		}

		cmd := Parse(token)
		if cmd == None {
			slog.Debug("unrecognized control token ignored", "token", token)
		}
		s.submit(cmd)
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("command reader stopped", "error", err)
		return
	}
	slog.Info("command reader reached end of input")
}
