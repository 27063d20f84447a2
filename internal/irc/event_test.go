package irc

import (
	"errors"
	"reflect"
	"testing"
)

var testAddr = Addressing{Nick: "testie", Prefix: ";"}

func mustParse(t *testing.T, line string) *Event {
	t.Helper()
	ev, err := ParseEvent(line, testAddr)
	if err != nil {
		t.Fatalf("ParseEvent(%q) failed: %v", line, err)
	}
	return ev
}

func TestParsePrivmsg(t *testing.T) {
	ev := mustParse(t, ":bot!bot@host.name.com PRIVMSG #bot :beep\r\n")

	if ev.Origin != "bot!bot@host.name.com" {
		t.Errorf("origin: got %q", ev.Origin)
	}
	if ev.Nick != "bot" || ev.User != "bot" || ev.Host != "host.name.com" {
		t.Errorf("prefix split wrong: %q %q %q", ev.Nick, ev.User, ev.Host)
	}
	if ev.Type != "PRIVMSG" || ev.Destination != "#bot" || ev.Text != "beep" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.IsCommand() || ev.CommandParams != nil || ev.CommandParamsRaw != "" {
		t.Errorf("plain chatter must not be a command: %+v", ev)
	}
}

func TestParseAddressedCommand(t *testing.T) {
	tests := []struct {
		text   string
		cmd    string
		params []string
		raw    string
	}{
		{"testie: beep bep boop", "beep", []string{"bep", "boop"}, "bep boop"},
		{"testie, beep", "beep", []string{}, ""},
		{"testie:beep x", "beep", []string{"x"}, "x"},
		{"all: beep", "beep", []string{}, ""},
		{"Testie: beep", "beep", []string{}, ""},
		{";beep bep boop", "beep", []string{"bep", "boop"}, "bep boop"},
		{";beep", "beep", []string{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			ev := mustParse(t, ":nod!~nod@crunchy.bueno.land PRIVMSG #xx :"+tt.text)
			if ev.Command != tt.cmd {
				t.Errorf("command: expected %q, got %q", tt.cmd, ev.Command)
			}
			if len(ev.CommandParams) != len(tt.params) {
				t.Fatalf("params: expected %v, got %v", tt.params, ev.CommandParams)
			}
			for i := range tt.params {
				if ev.CommandParams[i] != tt.params[i] {
					t.Errorf("param %d: expected %q, got %q", i, tt.params[i], ev.CommandParams[i])
				}
			}
			if ev.CommandParamsRaw != tt.raw {
				t.Errorf("raw: expected %q, got %q", tt.raw, ev.CommandParamsRaw)
			}
		})
	}
}

func TestParseNotAddressed(t *testing.T) {
	for _, text := range []string{
		"someoneelse: beep",
		"hello testie",
		"testie:",
		"testie: ",
		"testie:foo:bar baz",
		"testie,foo: bar",
	} {
		ev := mustParse(t, ":nod!~nod@host PRIVMSG #xx :"+text)
		if ev.IsCommand() {
			t.Errorf("%q should not be a command, got %q", text, ev.Command)
		}
	}
}

func TestParseJoinForms(t *testing.T) {
	withText := mustParse(t, ":bot!bot@host.name.com JOIN :#brahtobot")
	if withText.Destination != "#brahtobot" || withText.Text != "#brahtobot" {
		t.Errorf("JOIN :#chan: got destination %q text %q", withText.Destination, withText.Text)
	}

	bare := mustParse(t, ":bot!bot@host.name.com JOIN #brahtobot")
	if bare.Destination != "#brahtobot" || bare.Text != "" {
		t.Errorf("JOIN #chan: got destination %q text %q", bare.Destination, bare.Text)
	}

	if withText.Destination != bare.Destination {
		t.Errorf("both JOIN forms must resolve to the same destination")
	}

	part := mustParse(t, ":bot!bot@host PART :#brahtobot")
	if part.Destination != "#brahtobot" {
		t.Errorf("PART :#chan: got destination %q", part.Destination)
	}
}

func TestParseNumerics(t *testing.T) {
	names := mustParse(t, ":irc.server.net 353 testie = #chan :@op1 +voice1 plain1")
	if names.Type != "353" || !names.IsNumeric() {
		t.Errorf("expected numeric 353, got %q", names.Type)
	}
	if names.Nick != "" || names.Origin != "irc.server.net" {
		t.Errorf("server prefix must not produce a nick: %+v", names)
	}
	if names.Destination != "testie" {
		t.Errorf("destination: got %q", names.Destination)
	}
	if !reflect.DeepEqual(names.Parameters, []string{"=", "#chan"}) {
		t.Errorf("parameters: got %v", names.Parameters)
	}
	if names.ParametersRaw != "= #chan" {
		t.Errorf("parameters raw: got %q", names.ParametersRaw)
	}
	if names.Text != "@op1 +voice1 plain1" {
		t.Errorf("text: got %q", names.Text)
	}

	nochan := mustParse(t, ":senor.crunchybueno.com 401 nodnc  #xx :No such nick/channel")
	if len(nochan.Parameters) != 1 || nochan.Parameters[0] != "#xx" {
		t.Errorf("401 parameters: got %v", nochan.Parameters)
	}
}

func TestParseLowercaseCommand(t *testing.T) {
	ev := mustParse(t, "ping :12345")
	if ev.Type != "PING" || ev.Text != "12345" || ev.Destination != "" {
		t.Errorf("unexpected ping: %+v", ev)
	}
}

func TestParseKick(t *testing.T) {
	ev := mustParse(t, ":op!o@h KICK #chan testie :go away")
	if ev.Destination != "#chan" {
		t.Errorf("destination: got %q", ev.Destination)
	}
	if len(ev.Parameters) != 1 || ev.Parameters[0] != "testie" {
		t.Errorf("parameters: got %v", ev.Parameters)
	}
	if ev.Text != "go away" {
		t.Errorf("text: got %q", ev.Text)
	}
}

func TestParseEmptyText(t *testing.T) {
	ev := mustParse(t, ":nick!u@h PRIVMSG #chan :")
	if ev.Text != "" || ev.IsCommand() {
		t.Errorf("empty text should parse cleanly: %+v", ev)
	}
}

func TestParseErrors(t *testing.T) {
	for _, line := range []string{"", "\r\n", ":onlyprefix", ": PRIVMSG #a :x", ":srv 12 foo", ":srv PRIV-MSG #a"} {
		_, err := ParseEvent(line, testAddr)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Errorf("ParseEvent(%q): expected *ParseError, got %v", line, err)
		}
	}
}

func TestReplyHelpers(t *testing.T) {
	ev := mustParse(t, ":nod!~nod@host PRIVMSG #xx :hi")
	if !ev.InChannel() {
		t.Error("expected channel event")
	}
	if ev.Hostmask() != "nod!~nod@host" {
		t.Errorf("hostmask: got %q", ev.Hostmask())
	}

	pm := mustParse(t, ":nod!~nod@host PRIVMSG testie :hi")
	if pm.InChannel() {
		t.Error("private message must not be a channel event")
	}
}
