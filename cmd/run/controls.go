package run

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// ParseControlLine interprets one line of interactive input.
// Every space requests one more insert worker. An empty line, "q" or "quit" stops the run.
func ParseControlLine(line string) (spawn int, stop bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return 0, true
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "q", "quit", "exit":
		return 0, true
	}
	return strings.Count(line, " "), false
}

// ReadControls turns lines read from r into control signals for the harness.
// At EOF reading stops without stopping the run, so a run can be driven by
// --duration or signals alone when stdin is not interactive.
func ReadControls(ctx context.Context, r io.Reader) (<-chan int, <-chan struct{}) {
	spawn := make(chan int)
	stop := make(chan struct{})

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			n, quit := ParseControlLine(scanner.Text())
			if quit {
				close(stop)
				return
			}
			if n == 0 {
				continue
			}
			select {
			case spawn <- n:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warningf("reading controls failed: %v", err)
		}
	}()

	return spawn, stop
}
