package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MilestoneID identifies a benchmark catalog entry.
type MilestoneID int64

// ParseMilestoneID parses a decimal milestone id.
func ParseMilestoneID(raw string) (MilestoneID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid milestone id %q", raw)
	}
	return MilestoneID(n), nil
}

func (id MilestoneID) String() string { return strconv.FormatInt(int64(id), 10) }

// Sequence is the ordered list of milestones assigned to a task. Methods that
// change the order return a new slice and never modify the receiver.
type Sequence []MilestoneID

// ParseSequence decodes the comma separated storage form, skipping blanks.
func ParseSequence(raw string) (Sequence, error) {
	var seq Sequence
	for _, p := range strings.Split(raw, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		id, err := ParseMilestoneID(p)
		if err != nil {
			return nil, err
		}
		seq = append(seq, id)
	}
	return seq, nil
}

// String encodes the sequence in its comma separated storage form.
func (s Sequence) String() string {
	parts := make([]string, len(s))
	for i, id := range s {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func (s Sequence) Clone() Sequence {
	if s == nil {
		return nil
	}
	return append(Sequence(nil), s...)
}

// Index returns the position of the first occurrence of id or -1.
func (s Sequence) Index(id MilestoneID) int {
	for i, v := range s {
		if v == id {
			return i
		}
	}
	return -1
}

func (s Sequence) Contains(id MilestoneID) bool { return s.Index(id) >= 0 }

// Last returns the final milestone of the sequence.
func (s Sequence) Last() (MilestoneID, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// Remove drops every occurrence of id.
func (s Sequence) Remove(id MilestoneID) Sequence {
	out := make(Sequence, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// InsertAt places id at pos, appending when pos is past the end.
func (s Sequence) InsertAt(pos int, id MilestoneID) Sequence {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s) {
		pos = len(s)
	}
	out := make(Sequence, 0, len(s)+1)
	out = append(out, s[:pos]...)
	out = append(out, id)
	return append(out, s[pos:]...)
}

// InsertAfter places id immediately after the first occurrence of anchor. The
// sequence is returned unchanged when anchor is absent.
func (s Sequence) InsertAfter(anchor, id MilestoneID) Sequence {
	i := s.Index(anchor)
	if i < 0 {
		return s.Clone()
	}
	return s.InsertAt(i+1, id)
}

// AppendMissing appends id unless it is already present.
func (s Sequence) AppendMissing(id MilestoneID) Sequence {
	if s.Contains(id) {
		return s.Clone()
	}
	return append(s.Clone(), id)
}

func (s Sequence) Equal(o Sequence) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}
