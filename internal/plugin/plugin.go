// Package plugin holds the command registry shared by every connection of a
// bot. Plugins declare their commands and hooks explicitly; the registry maps
// command names to handlers and routes events to them.
package plugin

import (
	"context"

	"github.com/iobot/iobot/internal/irc"
)

// HandlerFunc handles one event. A returned error (or a panic) is reported
// back to whoever triggered the event.
type HandlerFunc func(ctx context.Context, c *irc.Connection, ev *irc.Event) error

// Command binds a command name to a handler.
type Command struct {
	Name string
	// Admin restricts the command to the connection's owners.
	Admin   bool
	Help    string
	Handler HandlerFunc
}

// Hook observes every event of Type ("PRIVMSG", "JOIN", "353", ...).
type Hook struct {
	Type    string
	Handler HandlerFunc
}

// Plugin is a loaded plugin instance.
type Plugin interface {
	Commands() []Command
	Hooks() []Hook
}

// Factory builds a fresh plugin instance. Load and Reload call it each time.
type Factory func() Plugin

// Auditor records dispatched commands.
type Auditor interface {
	RecordCommand(server, hostmask, command string)
}
