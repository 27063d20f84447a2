// Package echo repeats text back to its sender, at most once per cooldown
// period per nick.
package echo

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/plugin"
	"github.com/iobot/iobot/internal/sched"
)

// DefaultCooldown is used when Factory is given a zero duration.
const DefaultCooldown = 3 * time.Second

// Scheduler runs deferred callbacks on the event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *sched.Timer
}

type echo struct {
	sched    Scheduler
	cooldown time.Duration

	mu      sync.Mutex
	cooling map[string]*sched.Timer
}

// Factory returns a plugin.Factory whose instances throttle through s.
func Factory(s Scheduler, cooldown time.Duration) plugin.Factory {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return func() plugin.Plugin {
		return &echo{
			sched:    s,
			cooldown: cooldown,
			cooling:  make(map[string]*sched.Timer),
		}
	}
}

func (e *echo) Commands() []plugin.Command {
	return []plugin.Command{{Name: "echo", Help: "echo <text>", Handler: e.echo}}
}

func (e *echo) Hooks() []plugin.Hook { return nil }

func (e *echo) echo(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	if ev.CommandParamsRaw == "" {
		return c.ReplyWithNick(ev, "usage: echo <text>")
	}

	key := strings.ToLower(ev.Nick)
	e.mu.Lock()
	if _, busy := e.cooling[key]; busy {
		e.mu.Unlock()
		return nil
	}
	e.cooling[key] = e.sched.AfterFunc(e.cooldown, func() {
		e.mu.Lock()
		delete(e.cooling, key)
		e.mu.Unlock()
	})
	e.mu.Unlock()

	return c.Reply(ev, ev.CommandParamsRaw)
}

// Close cancels every pending cooldown.
func (e *echo) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, t := range e.cooling {
		t.Stop()
		delete(e.cooling, key)
	}
	return nil
}
