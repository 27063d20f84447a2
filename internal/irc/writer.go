package irc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// ErrSendQueueFull is returned when outbound lines pile up faster than the
// rate limit lets them drain.
var ErrSendQueueFull = errors.New("irc: send queue full")

const sendQueueSize = 256

type sender interface {
	send(line string, urgent bool) error
}

// writer owns the write side of the stream. Regular lines are paced by the
// limiter; urgent lines jump the queue and are never delayed by it.
type writer struct {
	w       io.Writer
	limiter *rate.Limiter
	server  string

	queue  chan string
	urgent chan string
	done   chan struct{}
}

func newWriter(w io.Writer, limiter *rate.Limiter, server string) *writer {
	return &writer{
		w:       w,
		limiter: limiter,
		server:  server,
		queue:   make(chan string, sendQueueSize),
		urgent:  make(chan string, sendQueueSize),
		done:    make(chan struct{}),
	}
}

func (w *writer) send(line string, urgent bool) error {
	ch := w.queue
	if urgent {
		ch = w.urgent
	}
	select {
	case <-w.done:
		return ErrNotConnected
	default:
	}
	select {
	case ch <- line:
		return nil
	case <-w.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

func (w *writer) run(ctx context.Context) error {
	defer close(w.done)
	for {
		// drain urgent lines before looking at the regular queue
		select {
		case line := <-w.urgent:
			if err := w.writeLine(line); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case line := <-w.urgent:
			if err := w.writeLine(line); err != nil {
				return err
			}
		case line := <-w.queue:
			if err := w.pace(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if err := w.writeLine(line); err != nil {
				return err
			}
		}
	}
}

// pace waits for a rate token while still servicing urgent lines.
func (w *writer) pace(ctx context.Context) error {
	if w.limiter == nil {
		return nil
	}
	r := w.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("irc: send burst misconfigured")
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		case line := <-w.urgent:
			if err := w.writeLine(line); err != nil {
				return err
			}
		case <-timer.C:
			return nil
		}
	}
}

func (w *writer) writeLine(line string) error {
	if _, err := io.WriteString(w.w, line); err != nil {
		return fmt.Errorf("write to %s: %w", w.server, err)
	}
	return nil
}
