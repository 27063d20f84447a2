// Package links answers the links command with the network's server tree,
// collected from the server's RPL_LINKS replies.
package links

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/iobot/iobot/internal/irc"
	"github.com/iobot/iobot/internal/plugin"
	"github.com/iobot/iobot/internal/sched"
)

// DefaultTimeout is how long a request waits for the end of the LINKS list.
const DefaultTimeout = 30 * time.Second

// Scheduler runs deferred callbacks on the event loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) *sched.Timer
}

type request struct {
	requester string
	summary   bool
	tree      *Tree
	expiry    *sched.Timer
}

type links struct {
	sched   Scheduler
	timeout time.Duration

	mu      sync.Mutex
	pending map[*irc.Connection]*request
}

// Factory returns a plugin.Factory whose requests expire through s after
// timeout (DefaultTimeout when zero).
func Factory(s Scheduler, timeout time.Duration) plugin.Factory {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return func() plugin.Plugin {
		return &links{
			sched:   s,
			timeout: timeout,
			pending: make(map[*irc.Connection]*request),
		}
	}
}

func (l *links) Commands() []plugin.Command {
	return []plugin.Command{
		{Name: "links", Help: "links - the network's server tree", Handler: l.request(false)},
		{Name: "summary", Help: "summary - how many servers are linked", Handler: l.request(true)},
	}
}

func (l *links) Hooks() []plugin.Hook {
	return []plugin.Hook{
		{Type: "364", Handler: l.onLinks},        // RPL_LINKS
		{Type: "365", Handler: l.onEndOfLinks},   // RPL_ENDOFLINKS
		{Type: "481", Handler: l.onNoPrivileges}, // ERR_NOPRIVILEGES
	}
}

func (l *links) request(summary bool) plugin.HandlerFunc {
	return func(_ context.Context, c *irc.Connection, ev *irc.Event) error {
		l.mu.Lock()
		if _, busy := l.pending[c]; busy {
			l.mu.Unlock()
			return c.ReplyWithNick(ev, "already waiting on a LINKS reply")
		}
		req := &request{requester: ev.Nick, summary: summary, tree: NewTree()}
		req.expiry = l.sched.AfterFunc(l.timeout, func() {
			if l.take(c, req) {
				c.Logger().Warn("LINKS request expired", "requester", req.requester)
				c.PrivateMessage(req.requester, "The server did not answer LINKS")
			}
		})
		l.pending[c] = req
		l.mu.Unlock()

		if err := c.Send("LINKS"); err != nil {
			l.finish(c)
			return err
		}
		return nil
	}
}

// take clears req if it is still the connection's pending request.
func (l *links) take(c *irc.Connection, req *request) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pending[c] != req {
		return false
	}
	delete(l.pending, c)
	return true
}

// finish clears and returns the connection's pending request, if any.
func (l *links) finish(c *irc.Connection) *request {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.pending[c]
	if !ok {
		return nil
	}
	delete(l.pending, c)
	req.expiry.Stop()
	return req
}

// 364 <me> <server> <hub> :<hops> <description>
func (l *links) onLinks(_ context.Context, c *irc.Connection, ev *irc.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	req, ok := l.pending[c]
	if !ok || len(ev.Parameters) < 2 {
		return nil
	}
	hopsText, description, _ := strings.Cut(ev.Text, " ")
	hops, err := strconv.Atoi(hopsText)
	if err != nil {
		c.Logger().Warn("bad RPL_LINKS hop count", "line", ev.Raw)
		return nil
	}
	req.tree.Add(ev.Parameters[0], ev.Parameters[1], hops, description)
	return nil
}

func (l *links) onEndOfLinks(_ context.Context, c *irc.Connection, _ *irc.Event) error {
	req := l.finish(c)
	if req == nil {
		return nil
	}

	if req.tree.Len() == 0 {
		return c.PrivateMessage(req.requester, "The server returned no links")
	}
	if req.summary {
		return c.PrivateMessage(req.requester, strconv.Itoa(req.tree.Len())+" servers linked: "+strings.Join(req.tree.ShortNames(), ", "))
	}
	for _, line := range req.tree.Lines() {
		if err := c.PrivateMessage(req.requester, line); err != nil {
			return err
		}
	}
	return nil
}

// 481 <me> :Permission Denied- You're not an IRC operator
func (l *links) onNoPrivileges(_ context.Context, c *irc.Connection, _ *irc.Event) error {
	req := l.finish(c)
	if req == nil {
		return nil
	}
	return c.PrivateMessage(req.requester, "LINKS: permission denied")
}

// Close cancels every pending request.
func (l *links) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c, req := range l.pending {
		req.expiry.Stop()
		delete(l.pending, c)
	}
	return nil
}
