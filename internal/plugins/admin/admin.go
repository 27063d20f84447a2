// Package admin provides the owner commands that manage plugins and channel
// membership at runtime.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/plugin"
)

// Registry is the part of the plugin registry the admin commands drive.
type Registry interface {
	Load(name string) error
	Unload(name string) error
	Reload(name string) error
	Loaded() []string
	Available() []string
	Commands() []string
	Lookup(name string) (plugin.Command, string, bool)
}

// Notices gives access to recent connection notices.
type Notices interface {
	RecentNotices(n int) []string
}

const defaultNotices = 10

type admin struct {
	reg     Registry
	notices Notices
}

// Factory returns a plugin.Factory bound to reg. notices may be nil.
func Factory(reg Registry, notices Notices) plugin.Factory {
	return func() plugin.Plugin {
		return &admin{reg: reg, notices: notices}
	}
}

func (a *admin) Commands() []plugin.Command {
	return []plugin.Command{
		{Name: "load", Admin: true, Help: "load <plugin>", Handler: a.load},
		{Name: "unload", Admin: true, Help: "unload <plugin>", Handler: a.unload},
		{Name: "reload", Admin: true, Help: "reload <plugin>", Handler: a.reload},
		{Name: "join", Admin: true, Help: "join <channel>...", Handler: a.join},
		{Name: "part", Admin: true, Help: "part [channel]...", Handler: a.part},
		{Name: "nick", Admin: true, Help: "nick <nick>", Handler: a.nick},
		{Name: "logs", Admin: true, Help: "logs [count] - recent connection notices", Handler: a.logs},
		{Name: "plugins", Help: "plugins - loaded and available plugins", Handler: a.plugins},
		{Name: "commands", Help: "commands - every routable command", Handler: a.commands},
		{Name: "help", Help: "help <command>", Handler: a.help},
	}
}

func (a *admin) Hooks() []plugin.Hook { return nil }

func firstParam(c *irc.Connection, ev *irc.Event, usage string) (string, bool) {
	if len(ev.CommandParams) == 0 {
		c.ReplyWithNick(ev, "usage: "+usage)
		return "", false
	}
	return ev.CommandParams[0], true
}

func (a *admin) load(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	name, ok := firstParam(c, ev, "load <plugin>")
	if !ok {
		return nil
	}
	if err := a.reg.Load(name); err != nil {
		c.Logger().Error("load failed", "plugin", name, "by", ev.Nick, "err", err)
		return c.ReplyWithNick(ev, fmt.Sprintf("Error loading %s: %v", name, err))
	}
	c.Logger().Info("plugin loaded", "plugin", name, "by", ev.Nick)
	return c.Reply(ev, "Loaded "+name)
}

func (a *admin) unload(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	name, ok := firstParam(c, ev, "unload <plugin>")
	if !ok {
		return nil
	}
	if err := a.reg.Unload(name); err != nil {
		if errors.Is(err, plugin.ErrNotLoaded) {
			return c.ReplyWithNick(ev, name+" is not loaded")
		}
		return c.ReplyWithNick(ev, fmt.Sprintf("Error unloading %s: %v", name, err))
	}
	c.Logger().Info("plugin unloaded", "plugin", name, "by", ev.Nick)
	return c.Reply(ev, "Unloaded "+name)
}

func (a *admin) reload(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	name, ok := firstParam(c, ev, "reload <plugin>")
	if !ok {
		return nil
	}
	if err := a.reg.Reload(name); err != nil {
		if errors.Is(err, plugin.ErrNotLoaded) {
			return c.ReplyWithNick(ev, name+" is not loaded")
		}
		c.Logger().Error("reload failed", "plugin", name, "by", ev.Nick, "err", err)
		return c.ReplyWithNick(ev, fmt.Sprintf("Error reloading %s: %v", name, err))
	}
	c.Logger().Info("plugin reloaded", "plugin", name, "by", ev.Nick)
	return c.Reply(ev, "Reloaded "+name)
}

func (a *admin) join(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	if _, ok := firstParam(c, ev, "join <channel>..."); !ok {
		return nil
	}
	return c.JoinChannel(ev.CommandParams...)
}

func (a *admin) part(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	channels := ev.CommandParams
	if len(channels) == 0 && ev.InChannel() {
		channels = []string{ev.Destination}
	}
	if len(channels) == 0 {
		return c.ReplyWithNick(ev, "usage: part <channel>...")
	}
	return c.PartChannel(channels...)
}

func (a *admin) nick(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	nick, ok := firstParam(c, ev, "nick <nick>")
	if !ok {
		return nil
	}
	return c.SetNick(nick)
}

func (a *admin) logs(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	if a.notices == nil {
		return c.ReplyWithNick(ev, "no notice log configured")
	}
	count := defaultNotices
	if len(ev.CommandParams) > 0 {
		if n, err := strconv.Atoi(ev.CommandParams[0]); err == nil && n > 0 {
			count = n
		}
	}
	entries := a.notices.RecentNotices(count)
	if len(entries) == 0 {
		return c.ReplyWithNick(ev, "no notices recorded")
	}
	// long listings go to the requester, not the channel
	if err := c.PrivateMessage(ev.Nick, fmt.Sprintf("The last \x02%d\x02 notices:", len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.PrivateMessage(ev.Nick, e); err != nil {
			return err
		}
	}
	return nil
}

func (a *admin) plugins(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	loaded := a.reg.Loaded()
	available := a.reg.Available()
	return c.Reply(ev, fmt.Sprintf("loaded: %s | available: %s", list(loaded), list(available)))
}

func (a *admin) commands(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	return c.Reply(ev, "commands: "+list(a.reg.Commands()))
}

func (a *admin) help(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	if len(ev.CommandParams) == 0 {
		return c.Reply(ev, "commands: "+list(a.reg.Commands()))
	}
	cmd, owner, ok := a.reg.Lookup(ev.CommandParams[0])
	if !ok {
		return c.ReplyWithNick(ev, "no such command "+ev.CommandParams[0])
	}
	text := cmd.Help
	if text == "" {
		text = cmd.Name
	}
	if cmd.Admin {
		text += " (owners only)"
	}
	return c.Reply(ev, fmt.Sprintf("%s [%s]", text, owner))
}

func list(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
