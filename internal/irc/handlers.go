package irc

import (
	"errors"
	"fmt"
	"strings"
)

// privilege markers stripped from NAMES entries
const namesPrefixes = "~&@%+"

func (c *Connection) registerHandlers() {
	c.protocol = map[string]func(*Event) error{
		"PING": c.onPing,
		"001":  c.onWelcome,       // RPL_WELCOME
		"353":  c.onNames,         // RPL_NAMREPLY
		"401":  c.onNoSuchChannel, // ERR_NOSUCHNICK
		"433":  c.onNickInUse,     // ERR_NICKNAMEINUSE
		"JOIN": c.onJoin,
		"PART": c.onPart,
		"KICK": c.onKick,
		"NICK": c.onNick,
		"QUIT": c.onQuit,
	}
}

func malformed(ev *Event, what string) error {
	return fmt.Errorf("malformed %s: %s: %q", ev.Type, what, ev.Raw)
}

func (c *Connection) onPing(ev *Event) error {
	token := ev.Text
	if token == "" {
		token = ev.Destination
	}
	return c.Pong(token)
}

func (c *Connection) onWelcome(ev *Event) error {
	// the server has the final say on our nick
	if ev.Destination != "" {
		c.setNick(ev.Destination)
	}
	c.setState(StateReady)

	c.mu.Lock()
	first := !c.welcomed
	c.welcomed = true
	c.mu.Unlock()
	if !first {
		return nil
	}

	c.log.Info("registered", "nick", c.Nick())
	if len(c.cfg.Channels) == 0 {
		return nil
	}
	return c.JoinChannel(c.cfg.Channels...)
}

func (c *Connection) onJoin(ev *Event) error {
	channel := ev.Destination
	if channel == "" {
		return malformed(ev, "no channel")
	}
	if c.isSelf(ev.Nick) {
		c.log.Info("joined", "channel", channel)
		c.tracker.AddChannel(channel)
		return nil
	}
	_, err := c.tracker.AddUser(channel, User{Nick: ev.Nick, User: ev.User, Host: ev.Host})
	return err
}

func (c *Connection) onNames(ev *Event) error {
	// 353 <me> <symbol> <channel> :<nicks>
	if len(ev.Parameters) == 0 {
		return malformed(ev, "no channel")
	}
	channel := ev.Parameters[len(ev.Parameters)-1]
	for _, entry := range strings.Fields(ev.Text) {
		nick := strings.TrimLeft(entry, namesPrefixes)
		if nick == "" {
			continue
		}
		if _, err := c.tracker.AddUser(channel, User{Nick: nick}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) onNoSuchChannel(ev *Event) error {
	// 401 <me> <target> :No such nick/channel
	if len(ev.Parameters) == 0 {
		return malformed(ev, "no target")
	}
	return c.tracker.RemoveChannel(ev.Parameters[0])
}

func (c *Connection) onPart(ev *Event) error {
	channel := ev.Destination
	if channel == "" {
		return malformed(ev, "no channel")
	}
	if c.isSelf(ev.Nick) {
		c.log.Info("parted", "channel", channel)
		return c.tracker.RemoveChannel(channel)
	}
	return c.tracker.RemoveUser(channel, ev.Nick)
}

func (c *Connection) onKick(ev *Event) error {
	// KICK <channel> <nick> :<comment>
	if ev.Destination == "" || len(ev.Parameters) == 0 {
		return malformed(ev, "no channel or nick")
	}
	victim := ev.Parameters[0]
	if c.isSelf(victim) {
		c.log.Warn("kicked", "channel", ev.Destination, "by", ev.Nick, "reason", ev.Text)
		return c.tracker.RemoveChannel(ev.Destination)
	}
	return c.tracker.RemoveUser(ev.Destination, victim)
}

func (c *Connection) onNick(ev *Event) error {
	newNick := ev.Text
	if newNick == "" {
		newNick = ev.Destination
	}
	if newNick == "" || ev.Nick == "" {
		return malformed(ev, "no nick")
	}

	if c.isSelf(ev.Nick) {
		c.log.Info("nick changed", "old", ev.Nick, "new", newNick)
		c.setNick(newNick)
		if err := c.tracker.RenameUser(ev.Nick, newNick); err != nil && !errors.Is(err, ErrUnknownUser) {
			return err
		}
		return nil
	}
	return c.tracker.RenameUser(ev.Nick, newNick)
}

func (c *Connection) onQuit(ev *Event) error {
	if ev.Nick == "" || c.isSelf(ev.Nick) {
		return nil
	}
	return c.tracker.ForgetUser(ev.Nick)
}

func (c *Connection) onNickInUse(ev *Event) error {
	if c.State() != StateRegistering {
		return nil
	}
	current := c.Nick()
	alt := c.cfg.Alternate
	if alt == "" || strings.EqualFold(alt, current) {
		alt = current + "_"
	}
	c.log.Info("nick in use, switching to alternate", "nick", current, "alternate", alt)
	return c.SetNick(alt)
}
