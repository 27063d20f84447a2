package plugin

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/iobot/iobot/internal/irc"
)

var errDenied = errors.New("insufficient privileges")

// RequireOwner wraps h so it only runs for the connection's owners. Anyone
// else gets the standard refusal and h is never called.
func RequireOwner(h HandlerFunc) HandlerFunc {
	return func(ctx context.Context, c *irc.Connection, ev *irc.Event) error {
		if !c.IsOwner(ev.Nick) {
			if err := c.Reply(ev, fmt.Sprintf("Error: Insufficient privileges for %s", ev.Nick)); err != nil {
				return errors.Wrap(errDenied, err.Error())
			}
			return errDenied
		}
		return h(ctx, c, ev)
	}
}
