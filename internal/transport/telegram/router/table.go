package router

import (
	"cmp"
	"slices"
	"strings"
)

// table is an immutable name and alias index over one command set. It is
// swapped whole on SetRegistry.
type table struct {
	byName map[string]*Command
	cmds   []*Command
}

func newTable(cmds []Command) *table {
	t := &table{byName: make(map[string]*Command, len(cmds))}
	for i := range cmds {
		c := &cmds[i]
		name := normalizeName(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := t.byName[name]; dup {
			continue
		}
		c.Name = name
		t.byName[name] = c
		t.cmds = append(t.cmds, c)
	}
	// Aliases never shadow a real command name.
	for _, c := range t.cmds {
		for _, a := range c.Aliases {
			a = normalizeName(a)
			if a == "" || strings.ContainsRune(a, ' ') {
				continue
			}
			if _, taken := t.byName[a]; !taken {
				t.byName[a] = c
			}
		}
	}
	slices.SortFunc(t.cmds, func(a, b *Command) int {
		if a.Access != b.Access {
			return cmp.Compare(a.Access, b.Access)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return t
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "/"))
}

func (t *table) lookup(word string) (*Command, bool) {
	if t == nil {
		return nil, false
	}
	c, ok := t.byName[normalizeName(word)]
	return c, ok
}

// visible lists the commands a user may see, public ones first.
func (t *table) visible(owner bool) []*Command {
	if t == nil {
		return nil
	}
	out := make([]*Command, 0, len(t.cmds))
	for _, c := range t.cmds {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		out = append(out, c)
	}
	return out
}
