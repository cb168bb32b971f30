package option

import (
	"fmt"
	"strings"
)

// Set is an ordered collection of options addressable by name or alias.
type Set struct {
	list []Option
}

// Add inserts o, replacing an existing option with the same name.
func (s *Set) Add(o Option) {
	if o == nil {
		return
	}
	for i, cur := range s.list {
		if strings.EqualFold(cur.Name(), o.Name()) {
			s.list[i] = o
			return
		}
	}
	s.list = append(s.list, o)
}

// Get looks an option up by name first and alias second. Names are matched case-insensitively.
func (s *Set) Get(name string) (Option, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	for _, o := range s.list {
		if strings.EqualFold(o.Name(), name) {
			return o, true
		}
	}
	for _, o := range s.list {
		if o.Alias() != "" && strings.EqualFold(o.Alias(), name) {
			return o, true
		}
	}
	return nil, false
}

// Set validates and stores value on the named option.
func (s *Set) Set(name string, value any) (Option, error) {
	o, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, name)
	}
	if err := o.SetValue(value); err != nil {
		return o, err
	}
	return o, nil
}

func (s *Set) Len() int { return len(s.list) }

// Snapshot returns deep copies so callers outside the owning session cannot mutate it.
func (s *Set) Snapshot() []Option {
	out := make([]Option, 0, len(s.list))
	for _, o := range s.list {
		out = append(out, o.Clone())
	}
	return out
}
