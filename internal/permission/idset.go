package permission

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Wildcard is the list entry granting every id.
const Wildcard = "*"

// IDSet holds a set of network or device-type ids. A nil *IDSet means the
// list was not given at all, which grants nothing.
type IDSet struct {
	all bool
	ids map[int64]struct{}
}

// NewIDSet returns a set containing the given ids.
func NewIDSet(ids ...int64) *IDSet {
	s := IDSet{ids: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return &s
}

// AllIDs returns the wildcard set.
func AllIDs() *IDSet {
	return &IDSet{all: true}
}

// All returns true when the set is the wildcard set.
func (s *IDSet) All() bool {
	return s != nil && s.all
}

// Contains returns true when id is part of the set.
func (s *IDSet) Contains(id int64) bool {
	if s == nil {
		return false
	}
	if s.all {
		return true
	}
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of concrete ids in the set.
func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// IDs returns the concrete ids in ascending order.
func (s *IDSet) IDs() []int64 {
	if s == nil {
		return nil
	}
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Intersect returns the ids present in both sets.
func (s *IDSet) Intersect(o *IDSet) *IDSet {
	if s == nil || o == nil {
		return nil
	}
	if s.all {
		return o.clone()
	}
	if o.all {
		return s.clone()
	}
	out := NewIDSet()
	for id := range s.ids {
		if _, ok := o.ids[id]; ok {
			out.ids[id] = struct{}{}
		}
	}
	return out
}

// Union returns the ids present in either set.
func (s *IDSet) Union(o *IDSet) *IDSet {
	if s == nil {
		return o.clone()
	}
	if o == nil {
		return s.clone()
	}
	if s.all || o.all {
		return AllIDs()
	}
	out := s.clone()
	for id := range o.ids {
		out.ids[id] = struct{}{}
	}
	return out
}

func (s *IDSet) clone() *IDSet {
	if s == nil {
		return nil
	}
	if s.all {
		return AllIDs()
	}
	return NewIDSet(s.IDs()...)
}

// MarshalJSON encodes the set as a JSON list, using "*" for the wildcard.
func (s IDSet) MarshalJSON() ([]byte, error) {
	if s.all {
		return []byte(`["*"]`), nil
	}
	return json.Marshal(s.IDs())
}

// UnmarshalJSON decodes a JSON list of ids. Entries may be numbers, numeric
// strings or "*".
func (s *IDSet) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "decode id list error")
	}

	*s = IDSet{ids: make(map[int64]struct{}, len(raw))}
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		str := string(r)
		if len(r) > 0 && r[0] == '"' {
			if err := json.Unmarshal(r, &str); err != nil {
				return errors.Wrap(err, "decode id error")
			}
		}
		if str == Wildcard {
			s.all = true
			continue
		}
		id, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return errors.Errorf("invalid id: %s", str)
		}
		s.ids[id] = struct{}{}
	}
	return nil
}

// GUIDSet holds a set of device guids. A nil *GUIDSet does not narrow the
// device scope.
type GUIDSet struct {
	all   bool
	guids map[string]struct{}
}

// NewGUIDSet returns a set containing the given guids.
func NewGUIDSet(guids ...string) *GUIDSet {
	s := GUIDSet{guids: make(map[string]struct{}, len(guids))}
	for _, g := range guids {
		if g == Wildcard {
			s.all = true
			continue
		}
		s.guids[g] = struct{}{}
	}
	return &s
}

// Contains returns true when guid is part of the set.
func (s *GUIDSet) Contains(guid string) bool {
	if s == nil {
		return false
	}
	if s.all {
		return true
	}
	_, ok := s.guids[guid]
	return ok
}

// GUIDs returns the concrete guids in ascending order.
func (s *GUIDSet) GUIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.guids))
	for g := range s.guids {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a JSON list of strings.
func (s GUIDSet) MarshalJSON() ([]byte, error) {
	out := s.GUIDs()
	if s.all {
		out = append([]string{Wildcard}, out...)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a JSON list of guids.
func (s *GUIDSet) UnmarshalJSON(b []byte) error {
	var guids []string
	if err := json.Unmarshal(b, &guids); err != nil {
		return errors.Wrap(err, "decode guid list error")
	}
	*s = *NewGUIDSet(guids...)
	return nil
}
