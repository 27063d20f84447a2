package links

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is one RPL_LINKS line.
type Entry struct {
	Server      string
	Hub         string
	Hops        int
	Description string
}

// Tree collects LINKS replies and renders them as an indented server tree.
type Tree struct {
	entries map[string]*Entry
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{entries: make(map[string]*Entry)}
}

// Add records a link. A later entry for the same server replaces the earlier.
func (t *Tree) Add(server, hub string, hops int, description string) {
	t.entries[strings.ToLower(server)] = &Entry{
		Server:      server,
		Hub:         hub,
		Hops:        hops,
		Description: description,
	}
}

// Len is the number of servers collected.
func (t *Tree) Len() int {
	return len(t.entries)
}

// ShortNames returns each server's first label, sorted.
func (t *Tree) ShortNames() []string {
	names := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		short := e.Server
		if idx := strings.Index(short, "."); idx > 0 {
			short = short[:idx]
		}
		names = append(names, short)
	}
	sort.Strings(names)
	return names
}

// Lines renders the tree depth first from the hop-0 server.
func (t *Tree) Lines() []string {
	if len(t.entries) == 0 {
		return nil
	}

	var root *Entry
	for _, e := range t.entries {
		if e.Hops == 0 {
			root = e
			break
		}
	}
	if root == nil {
		return []string{"Error: no root server found"}
	}

	ordered := []*Entry{root}
	t.appendChildren(root, &ordered, map[string]bool{strings.ToLower(root.Server): true})

	lines := make([]string, len(ordered))
	for i, e := range ordered {
		lines[i] = format(e, ordered[i+1:])
	}
	return lines
}

func (t *Tree) appendChildren(parent *Entry, out *[]*Entry, seen map[string]bool) {
	var children []*Entry
	for key, e := range t.entries {
		if !seen[key] && strings.EqualFold(e.Hub, parent.Server) {
			children = append(children, e)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Server < children[j].Server
	})
	for _, c := range children {
		seen[strings.ToLower(c.Server)] = true
	}
	for _, c := range children {
		*out = append(*out, c)
		t.appendChildren(c, out, seen)
	}
}

// format draws one row; a level keeps its "|" while later rows sit deeper
// than it.
func format(e *Entry, rest []*Entry) string {
	if e.Hops == 0 {
		return fmt.Sprintf("%s (0) %s", e.Server, e.Description)
	}
	var prefix strings.Builder
	for level := 1; level < e.Hops; level++ {
		if continues(level+1, rest) {
			prefix.WriteString("   |")
		} else {
			prefix.WriteString("    ")
		}
	}
	prefix.WriteString("|_ ")
	return fmt.Sprintf("%s%s (%d) %s", prefix.String(), e.Server, e.Hops, e.Description)
}

func continues(level int, rest []*Entry) bool {
	for _, e := range rest {
		if e.Hops == level {
			return true
		}
	}
	return false
}
