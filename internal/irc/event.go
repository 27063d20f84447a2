package irc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"
)

// Event is the parsed form of one inbound line. It is built once by
// ParseEvent and must be treated as read-only afterwards.
type Event struct {
	Raw string

	// Origin is the raw prefix without the leading colon.
	Origin string
	Nick   string
	User   string
	Host   string

	// Type is the upper-cased command word or the 3-digit numeric.
	Type        string
	Destination string
	Text        string
	// Parameters are the middle tokens after Destination, before Text.
	Parameters    []string
	ParametersRaw string

	// Command fields are set only for PRIVMSG lines addressed to the bot.
	Command          string
	CommandParams    []string
	CommandParamsRaw string
}

// Addressing tells the parser how a PRIVMSG invokes a bot command.
type Addressing struct {
	// Nick is the bot's current nick; "<nick>: cmd" and "all: cmd" match.
	Nick string
	// Prefix, when set, also makes "<prefix>cmd" a command.
	Prefix string
}

// ParseError describes a line that does not fit the message grammar.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid irc line: %s: %q", e.Reason, e.Line)
}

// The target runs to the last separator of the first word, so
// "nick:foo:bar" is addressed to "nick:foo".
var addressedCommand = regexp.MustCompile(`^([^ ]+)[:,] ?([^ ]*)(?: (.*))?$`)

// ParseEvent parses one line (with or without its \r\n terminator).
func ParseEvent(line string, addr Addressing) (*Event, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, &ParseError{Line: line, Reason: "empty line"}
	}

	ev := &Event{Raw: line}
	rest := line

	if rest[0] == ':' {
		i := strings.IndexByte(rest, ' ')
		if i < 0 {
			return nil, &ParseError{Line: line, Reason: "prefix without command"}
		}
		ev.Origin = rest[1:i]
		if ev.Origin == "" {
			return nil, &ParseError{Line: line, Reason: "empty prefix"}
		}
		rest = strings.TrimLeft(rest[i+1:], " ")
		ev.splitOrigin()
	}

	word, rest := nextToken(rest)
	if word == "" {
		return nil, &ParseError{Line: line, Reason: "missing command"}
	}
	if !isNumeric(word) && !isCommandWord(word) {
		return nil, &ParseError{Line: line, Reason: "bad command " + word}
	}
	ev.Type = strings.ToUpper(word)

	if rest != "" && rest[0] != ':' {
		ev.Destination, rest = nextToken(rest)
	}

	if strings.HasPrefix(rest, ":") {
		ev.Text = rest[1:]
	} else if rest != "" {
		middle := rest
		if i := strings.Index(rest, " :"); i >= 0 {
			middle = rest[:i]
			ev.Text = rest[i+2:]
		}
		ev.ParametersRaw = middle
		ev.Parameters = strings.Fields(middle)
	}

	switch ev.Type {
	case "JOIN", "PART":
		// some servers send JOIN :#chan
		if ev.Destination == "" {
			ev.Destination = ev.Text
		}
	case "PRIVMSG":
		ev.parseCommand(addr)
	}

	return ev, nil
}

func (ev *Event) splitOrigin() {
	if !strings.Contains(ev.Origin, "!") || !strings.Contains(ev.Origin, "@") {
		return
	}
	nuh, err := ircmsg.ParseNUH(ev.Origin)
	if err != nil {
		return
	}
	ev.Nick, ev.User, ev.Host = nuh.Name, nuh.User, nuh.Host
}

func (ev *Event) parseCommand(addr Addressing) {
	if ev.Text == "" {
		return
	}

	if addr.Prefix != "" && strings.HasPrefix(ev.Text, addr.Prefix) {
		body := ev.Text[len(addr.Prefix):]
		name, params := nextToken(body)
		ev.setCommand(name, params)
		return
	}

	m := addressedCommand.FindStringSubmatch(ev.Text)
	if m == nil {
		return
	}
	target := m[1]
	if target != "all" && (addr.Nick == "" || !strings.EqualFold(target, addr.Nick)) {
		return
	}
	ev.setCommand(m[2], m[3])
}

func (ev *Event) setCommand(name, params string) {
	if name == "" {
		return
	}
	ev.Command = name
	ev.CommandParamsRaw = params
	ev.CommandParams = strings.Fields(params)
}

// IsNumeric reports whether Type is a 3-digit reply code.
func (ev *Event) IsNumeric() bool {
	return isNumeric(ev.Type)
}

// IsCommand reports whether the event is an addressed bot command.
func (ev *Event) IsCommand() bool {
	return ev.Command != ""
}

// InChannel reports whether the event was sent to a channel.
func (ev *Event) InChannel() bool {
	return IsChannel(ev.Destination)
}

// Hostmask returns nick!user@host, or the origin when it is not a user.
func (ev *Event) Hostmask() string {
	if ev.Nick == "" {
		return ev.Origin
	}
	return ev.Nick + "!" + ev.User + "@" + ev.Host
}

func (ev *Event) String() string {
	return fmt.Sprintf("<Event %s %s>", ev.Type, ev.Destination)
}

// IsChannel reports whether name carries a channel prefix.
func IsChannel(name string) bool {
	return name != "" && strings.ContainsRune("#&+!", rune(name[0]))
}

func nextToken(s string) (string, string) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeft(s[i+1:], " ")
}

func isNumeric(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isCommandWord(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return s != ""
}
