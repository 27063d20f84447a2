package irc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownChannel signals a desync: the channel is not tracked.
	ErrUnknownChannel = errors.New("irc: unknown channel")
	// ErrUnknownUser signals a desync: the nick is not tracked.
	ErrUnknownUser = errors.New("irc: unknown user")
)

// UserID is a stable handle into the tracker's user arena. Handles are never
// reused, so a stale handle simply stops resolving.
type UserID uint64

// User is one tracked identity.
type User struct {
	Nick string
	User string
	Host string
}

type userRecord struct {
	User
	// refs counts the channels listing this user
	refs int
}

// Tracker keeps channel membership and the nick index in agreement. Both
// store UserIDs, so a rename through the nick index is observed through every
// member list without rewriting them.
//
// When a channel is removed, users that are no longer in any tracked channel
// are purged from the nick index. Nicks are matched case-insensitively; the
// User keeps the case the server last sent.
type Tracker struct {
	mu       sync.RWMutex
	next     UserID
	arena    map[UserID]*userRecord
	nicks    map[string]UserID
	channels map[string][]UserID
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset forgets every channel and user.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.arena = make(map[UserID]*userRecord)
	t.nicks = make(map[string]UserID)
	t.channels = make(map[string][]UserID)
}

// AddChannel creates an empty member list. An existing list is replaced.
func (t *Tracker) AddChannel(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if members, ok := t.channels[name]; ok {
		t.release(members)
	}
	t.channels[name] = []UserID{}
}

// RemoveChannel drops the channel and its member list.
func (t *Tracker) RemoveChannel(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[name]
	if !ok {
		return fmt.Errorf("remove channel %s: %w", name, ErrUnknownChannel)
	}
	delete(t.channels, name)
	t.release(members)
	return nil
}

// AddUser appends u to the channel's member list and upserts the nick index.
// A user already listed in the channel is not listed twice.
func (t *Tracker) AddUser(channel string, u User) (UserID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[channel]
	if !ok {
		return 0, fmt.Errorf("add %s to %s: %w", u.Nick, channel, ErrUnknownChannel)
	}

	id, known := t.nicks[nickKey(u.Nick)]
	if known {
		rec := t.arena[id]
		rec.Nick = u.Nick
		if u.User != "" {
			rec.User.User = u.User
		}
		if u.Host != "" {
			rec.Host = u.Host
		}
		for _, m := range members {
			if m == id {
				return id, nil
			}
		}
	} else {
		t.next++
		id = t.next
		t.arena[id] = &userRecord{User: u}
		t.nicks[nickKey(u.Nick)] = id
	}

	t.arena[id].refs++
	t.channels[channel] = append(members, id)
	return id, nil
}

// RemoveUser takes nick out of one channel's member list.
func (t *Tracker) RemoveUser(channel, nick string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	members, ok := t.channels[channel]
	if !ok {
		return fmt.Errorf("remove %s from %s: %w", nick, channel, ErrUnknownChannel)
	}
	id, ok := t.nicks[nickKey(nick)]
	if !ok {
		return fmt.Errorf("remove %s from %s: %w", nick, channel, ErrUnknownUser)
	}
	for i, m := range members {
		if m == id {
			t.channels[channel] = append(members[:i:i], members[i+1:]...)
			t.release([]UserID{id})
			return nil
		}
	}
	return fmt.Errorf("remove %s from %s: %w", nick, channel, ErrUnknownUser)
}

// ForgetUser removes nick from every channel, as on QUIT.
func (t *Tracker) ForgetUser(nick string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.nicks[nickKey(nick)]
	if !ok {
		return fmt.Errorf("forget %s: %w", nick, ErrUnknownUser)
	}
	for name, members := range t.channels {
		kept := members[:0:0]
		for _, m := range members {
			if m != id {
				kept = append(kept, m)
			}
		}
		t.channels[name] = kept
	}
	delete(t.nicks, nickKey(nick))
	delete(t.arena, id)
	return nil
}

// RenameUser re-keys the nick index and updates the shared record in place.
func (t *Tracker) RenameUser(oldNick, newNick string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.nicks[nickKey(oldNick)]
	if !ok {
		return fmt.Errorf("rename %s: %w", oldNick, ErrUnknownUser)
	}
	delete(t.nicks, nickKey(oldNick))
	t.arena[id].Nick = newNick
	t.nicks[nickKey(newNick)] = id
	return nil
}

// release drops one channel reference from each id, purging users that no
// tracked channel lists any more. Callers hold mu.
func (t *Tracker) release(ids []UserID) {
	for _, id := range ids {
		rec, ok := t.arena[id]
		if !ok {
			continue
		}
		rec.refs--
		if rec.refs <= 0 {
			delete(t.arena, id)
			if t.nicks[nickKey(rec.Nick)] == id {
				delete(t.nicks, nickKey(rec.Nick))
			}
		}
	}
}

func nickKey(nick string) string {
	return strings.ToLower(nick)
}

// HasChannel reports whether the bot believes it is joined to name.
func (t *Tracker) HasChannel(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.channels[name]
	return ok
}

// Channels returns the tracked channel names, sorted.
func (t *Tracker) Channels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.channels))
	for name := range t.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Members returns copies of the channel's users in arrival order.
func (t *Tracker) Members(channel string) ([]User, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	members, ok := t.channels[channel]
	if !ok {
		return nil, fmt.Errorf("members of %s: %w", channel, ErrUnknownChannel)
	}
	users := make([]User, 0, len(members))
	for _, id := range members {
		if rec, ok := t.arena[id]; ok {
			users = append(users, rec.User)
		}
	}
	return users, nil
}

// Lookup finds a user by nick.
func (t *Tracker) Lookup(nick string) (User, UserID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.nicks[nickKey(nick)]
	if !ok {
		return User{}, 0, false
	}
	return t.arena[id].User, id, true
}

// Resolve dereferences a handle.
func (t *Tracker) Resolve(id UserID) (User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.arena[id]
	if !ok {
		return User{}, false
	}
	return rec.User, true
}

// UserCount is the size of the nick index.
func (t *Tracker) UserCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nicks)
}
