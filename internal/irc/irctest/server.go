// Package irctest runs an irc.Connection against an in-memory server so
// packages built on top of it can be tested end to end.
package irctest

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/iobot/iobot/internal/config"
	"github.com/iobot/iobot/internal/irc"
)

// Timeout bounds every wait in this package.
const Timeout = 5 * time.Second

// Server is the far end of a connection.
type Server struct {
	Conn *irc.Connection

	t     testing.TB
	peer  net.Conn
	lines chan string
	done  chan error
}

// Config returns a server config suitable for tests.
func Config() *config.Server {
	return &config.Server{
		Name:     "test",
		Address:  "irc.test",
		Port:     6667,
		Nick:     "testie",
		User:     "testie",
		RealName: "Test Bot",
		Owners:   []string{"boss"},
	}
}

// New starts a connection for cfg wired to an in-memory server.
func New(t testing.TB, cfg *config.Server, opts ...irc.Option) *Server {
	t.Helper()
	client, peer := net.Pipe()

	opts = append(opts, irc.WithDialer(func(context.Context, *config.Server) (io.ReadWriteCloser, error) {
		return client, nil
	}))
	s := &Server{
		Conn:  irc.NewConnection(cfg, opts...),
		t:     t,
		peer:  peer,
		lines: make(chan string, 256),
		done:  make(chan error, 1),
	}

	go func() {
		sc := bufio.NewScanner(peer)
		for sc.Scan() {
			s.lines <- strings.TrimRight(sc.Text(), "\r")
		}
		close(s.lines)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { s.done <- s.Conn.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		peer.Close()
		select {
		case <-s.done:
		case <-time.After(Timeout):
			t.Error("connection did not stop")
		}
	})
	return s
}

// Register completes registration and waits until the connection is ready.
// Auto-join lines, if any, are consumed.
func (s *Server) Register() {
	s.t.Helper()
	s.ExpectPrefix("NICK ")
	s.ExpectPrefix("USER ")
	s.Send(":irc.test 001 " + s.Conn.Config().Nick + " :Welcome")

	if len(s.Conn.Config().Channels) > 0 {
		s.ExpectPrefix("JOIN ")
	}
	deadline := time.Now().Add(Timeout)
	for s.Conn.State() != irc.StateReady {
		if time.Now().After(deadline) {
			s.t.Fatal("connection never became ready")
		}
		time.Sleep(time.Millisecond)
	}
}

// Send writes one line to the connection.
func (s *Server) Send(line string) {
	s.t.Helper()
	s.peer.SetWriteDeadline(time.Now().Add(Timeout))
	if _, err := io.WriteString(s.peer, line+"\r\n"); err != nil {
		s.t.Fatalf("send %q: %v", line, err)
	}
}

// Next returns the next line the connection wrote, without terminator.
func (s *Server) Next() string {
	s.t.Helper()
	select {
	case line, ok := <-s.lines:
		if !ok {
			s.t.Fatal("connection closed")
		}
		return line
	case <-time.After(Timeout):
		s.t.Fatal("timed out waiting for a line")
	}
	return ""
}

// Expect fails unless the next line is want.
func (s *Server) Expect(want string) {
	s.t.Helper()
	if got := s.Next(); got != want {
		s.t.Fatalf("Expected %q, got %q", want, got)
	}
}

// ExpectPrefix fails unless the next line starts with prefix.
func (s *Server) ExpectPrefix(prefix string) string {
	s.t.Helper()
	got := s.Next()
	if !strings.HasPrefix(got, prefix) {
		s.t.Fatalf("Expected a line starting with %q, got %q", prefix, got)
	}
	return got
}

// ExpectNothing fails if a line arrives within d.
func (s *Server) ExpectNothing(d time.Duration) {
	s.t.Helper()
	select {
	case line, ok := <-s.lines:
		if ok {
			s.t.Fatalf("Expected silence, got %q", line)
		}
	case <-time.After(d):
	}
}

// Event parses line the way the connection would.
func (s *Server) Event(line string) *irc.Event {
	s.t.Helper()
	ev, err := irc.ParseEvent(line, irc.Addressing{Nick: s.Conn.Nick(), Prefix: s.Conn.Config().Prefix})
	if err != nil {
		s.t.Fatalf("ParseEvent(%q): %v", line, err)
	}
	return ev
}
