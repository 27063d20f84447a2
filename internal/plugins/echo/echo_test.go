package echo

import (
	"context"
	"testing"
	"time"

	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/irc/irctest"
	"github.com/iobot/iobot/internal/plugin"
	"github.com/iobot/iobot/internal/sched"
)

func setup(t *testing.T, cooldown time.Duration) (*irctest.Server, *sched.Loop, *plugin.Registry) {
	t.Helper()
	loop := sched.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()

	reg := plugin.NewRegistry()
	reg.Register("echo", Factory(loop, cooldown))
	if err := reg.Load("echo"); err != nil {
		t.Fatal(err)
	}

	srv := irctest.New(t, irctest.Config(), irc.WithDispatcher(reg), irc.WithExecutor(loop))
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	srv.Register()
	return srv, loop, reg
}

func TestEcho(t *testing.T) {
	srv, _, _ := setup(t, time.Minute)

	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo hello  there")
	srv.Expect("PRIVMSG #xx :hello  there")

	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo")
	srv.Expect("PRIVMSG #xx :nod: usage: echo <text>")
}

func TestEchoCooldown(t *testing.T) {
	srv, loop, _ := setup(t, 100*time.Millisecond)

	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo one")
	srv.Expect("PRIVMSG #xx :one")

	// throttled, but other nicks are not
	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo two")
	srv.Send(":pal!p@h PRIVMSG #xx :testie: echo three")
	srv.Expect("PRIVMSG #xx :three")

	deadline := time.Now().Add(irctest.Timeout)
	for loop.Pending() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("cooldowns never expired")
		}
		time.Sleep(10 * time.Millisecond)
	}

	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo four")
	srv.Expect("PRIVMSG #xx :four")
}

func TestUnloadCancelsCooldowns(t *testing.T) {
	srv, loop, reg := setup(t, time.Hour)

	srv.Send(":nod!n@h PRIVMSG #xx :testie: echo one")
	srv.Expect("PRIVMSG #xx :one")
	if loop.Pending() != 1 {
		t.Fatalf("Expected one pending cooldown, got %d", loop.Pending())
	}

	if err := reg.Unload("echo"); err != nil {
		t.Fatal(err)
	}
	if loop.Pending() != 0 {
		t.Errorf("unload should cancel cooldowns, %d still pending", loop.Pending())
	}
}
