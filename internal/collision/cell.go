package collision

import (
	"fmt"
	"sort"
)

// Cell is an unordered membership set of entity ids
type Cell struct {
	id      int
	members map[string]struct{}
}

// NewCell creates an empty cell with the given id
func NewCell(id int) *Cell {
	return &Cell{
		id:      id,
		members: make(map[string]struct{}),
	}
}

// ID returns the cell's identifier
func (c *Cell) ID() int {
	return c.id
}

// Add inserts id. Adding an id already present is a no-op.
func (c *Cell) Add(id string) {
	c.members[id] = struct{}{}
}

// Remove deletes id, failing with ErrInconsistentMembership if it is absent
func (c *Cell) Remove(id string) error {
	if _, ok := c.members[id]; !ok {
		return fmt.Errorf("%w: %q not in cell %d", ErrInconsistentMembership, id, c.id)
	}
	delete(c.members, id)
	return nil
}

// Contains reports whether id is a member
func (c *Cell) Contains(id string) bool {
	_, ok := c.members[id]
	return ok
}

// IsEmpty reports whether the cell holds no ids
func (c *Cell) IsEmpty() bool {
	return len(c.members) == 0
}

// Len returns the number of members
func (c *Cell) Len() int {
	return len(c.members)
}

// IDs returns a sorted copy of the members
func (c *Cell) IDs() []string {
	return c.AppendIDs(make([]string, 0, len(c.members)))
}

// AppendIDs appends the members to buf in sorted order and returns the extended slice
func (c *Cell) AppendIDs(buf []string) []string {
	start := len(buf)
	for id := range c.members {
		buf = append(buf, id)
	}
	sort.Strings(buf[start:])
	return buf
}

// clear drops every member, keeping the cell's identity
func (c *Cell) clear() {
	for id := range c.members {
		delete(c.members, id)
	}
}
