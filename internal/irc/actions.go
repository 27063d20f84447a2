package irc

import (
	"errors"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/iobot/iobot/internal/telemetry"
)

// ErrEmptyArgument is returned when an action is called without a required
// argument. Nothing is sent in that case.
var ErrEmptyArgument = errors.New("irc: empty argument")

// SetNick requests nick. Before registration completes the local nick is
// updated right away; afterwards the server's NICK echo updates it.
func (c *Connection) SetNick(nick string) error {
	if nick == "" {
		return ErrEmptyArgument
	}
	if c.State() != StateReady {
		c.setNick(nick)
	}
	return c.write(ircmsg.MakeMessage(nil, "", "NICK", nick), false)
}

// JoinChannel joins one or more channels with a single JOIN.
func (c *Connection) JoinChannel(channels ...string) error {
	if len(channels) == 0 {
		return ErrEmptyArgument
	}
	for _, ch := range channels {
		if ch == "" {
			return ErrEmptyArgument
		}
	}
	return c.write(ircmsg.MakeMessage(nil, "", "JOIN", strings.Join(channels, ",")), false)
}

// PartChannel leaves one or more channels.
func (c *Connection) PartChannel(channels ...string) error {
	if len(channels) == 0 {
		return ErrEmptyArgument
	}
	for _, ch := range channels {
		if ch == "" {
			return ErrEmptyArgument
		}
	}
	return c.write(ircmsg.MakeMessage(nil, "", "PART", strings.Join(channels, ",")), false)
}

// PrivateMessage sends text to a nick or channel.
func (c *Connection) PrivateMessage(target, text string) error {
	return c.textMessage("PRIVMSG", target, text)
}

// Notice sends a NOTICE to a nick or channel.
func (c *Connection) Notice(target, text string) error {
	return c.textMessage("NOTICE", target, text)
}

func (c *Connection) textMessage(cmd, target, text string) error {
	if target == "" || text == "" {
		return ErrEmptyArgument
	}
	msg := ircmsg.MakeMessage(nil, "", cmd, target, text)
	msg.ForceTrailing()
	return c.write(msg, false)
}

// Kick removes nick from channel. The comment is optional.
func (c *Connection) Kick(channel, nick, comment string) error {
	if channel == "" || nick == "" {
		return ErrEmptyArgument
	}
	params := []string{channel, nick}
	if comment != "" {
		params = append(params, comment)
	}
	msg := ircmsg.MakeMessage(nil, "", "KICK", params...)
	if comment != "" {
		msg.ForceTrailing()
	}
	return c.write(msg, false)
}

// Reply answers ev in the channel it came from, or privately to its sender.
func (c *Connection) Reply(ev *Event, text string) error {
	if ev.InChannel() {
		return c.PrivateMessage(ev.Destination, text)
	}
	return c.PrivateMessage(ev.Nick, text)
}

// ReplyWithNick is Reply with "<nick>: " prepended in channels.
func (c *Connection) ReplyWithNick(ev *Event, text string) error {
	if ev.InChannel() && ev.Nick != "" {
		return c.PrivateMessage(ev.Destination, ev.Nick+": "+text)
	}
	return c.Reply(ev, text)
}

// Pong answers a keepalive. It skips the send rate limit.
func (c *Connection) Pong(token string) error {
	if token == "" {
		return ErrEmptyArgument
	}
	msg := ircmsg.MakeMessage(nil, "", "PONG", token)
	msg.ForceTrailing()
	return c.write(msg, true)
}

// Send writes an arbitrary command. A final parameter containing spaces is
// sent as the trailing parameter.
func (c *Connection) Send(command string, params ...string) error {
	if command == "" {
		return ErrEmptyArgument
	}
	return c.write(ircmsg.MakeMessage(nil, "", strings.ToUpper(command), params...), false)
}

// Quit tells the server we are leaving; the server then closes the stream.
func (c *Connection) Quit(reason string) error {
	var msg ircmsg.Message
	if reason == "" {
		msg = ircmsg.MakeMessage(nil, "", "QUIT")
	} else {
		msg = ircmsg.MakeMessage(nil, "", "QUIT", reason)
		msg.ForceTrailing()
	}
	return c.write(msg, true)
}

func (c *Connection) write(msg ircmsg.Message, urgent bool) error {
	line, err := msg.Line()
	if err != nil {
		return err
	}

	c.mu.RLock()
	out := c.out
	c.mu.RUnlock()
	if out == nil {
		return ErrNotConnected
	}

	c.log.Debug("write", "line", strings.TrimRight(line, "\r\n"))
	if err := out.send(line, urgent); err != nil {
		return err
	}
	telemetry.LinesWritten.WithLabelValues(c.Name).Inc()
	return nil
}
