package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Completion records one milestone close. ClosedBy is zero for unattributed
// entries added when merging the completed set.
type Completion struct {
	MilestoneID MilestoneID `json:"milestoneId"`
	ClosedBy    ActorID     `json:"closedBy,omitempty"`
}

// String renders the legacy "<id>-<actor>" token, or "<id>" when unattributed.
func (c Completion) String() string {
	if c.ClosedBy == 0 {
		return c.MilestoneID.String()
	}
	return c.MilestoneID.String() + "-" + strconv.FormatInt(int64(c.ClosedBy), 10)
}

func parseCompletion(token string) (Completion, error) {
	idPart, actorPart, attributed := strings.Cut(strings.TrimSpace(token), "-")
	id, err := ParseMilestoneID(idPart)
	if err != nil {
		return Completion{}, err
	}
	c := Completion{MilestoneID: id}
	if attributed {
		n, err := strconv.ParseInt(strings.TrimSpace(actorPart), 10, 64)
		if err != nil {
			return Completion{}, fmt.Errorf("invalid completion token %q", token)
		}
		c.ClosedBy = ActorID(n)
	}
	return c, nil
}

// Ledger is the append-ordered record of milestone completions for a task. It
// is a multimap from milestone to closers: duplicates are kept.
type Ledger []Completion

// ParseLedger decodes the comma separated storage form.
func ParseLedger(raw string) (Ledger, error) {
	var l Ledger
	for _, tok := range strings.Split(raw, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		c, err := parseCompletion(tok)
		if err != nil {
			return nil, err
		}
		l = append(l, c)
	}
	return l, nil
}

func (l Ledger) String() string {
	parts := make([]string, len(l))
	for i, c := range l {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}

// Append adds c at the end without deduplication.
func (l Ledger) Append(c Completion) Ledger {
	return append(append(Ledger(nil), l...), c)
}

// Has reports whether any entry closes id.
func (l Ledger) Has(id MilestoneID) bool {
	for _, c := range l {
		if c.MilestoneID == id {
			return true
		}
	}
	return false
}

// Closers lists the attributed closers of id in append order.
func (l Ledger) Closers(id MilestoneID) []ActorID {
	var out []ActorID
	for _, c := range l {
		if c.MilestoneID == id && c.ClosedBy != 0 {
			out = append(out, c.ClosedBy)
		}
	}
	return out
}

// Merge performs the deduplicated union of the completed set: every id is
// added as an unattributed entry unless one already exists.
func (l Ledger) Merge(ids []MilestoneID) Ledger {
	out := append(Ledger(nil), l...)
	seen := make(map[Completion]struct{}, len(out))
	for _, c := range out {
		seen[c] = struct{}{}
	}
	for _, id := range ids {
		c := Completion{MilestoneID: id}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// IDs returns the distinct milestone ids in first-seen order.
func (l Ledger) IDs() []MilestoneID {
	seen := make(map[MilestoneID]struct{}, len(l))
	var out []MilestoneID
	for _, c := range l {
		if _, ok := seen[c.MilestoneID]; ok {
			continue
		}
		seen[c.MilestoneID] = struct{}{}
		out = append(out, c.MilestoneID)
	}
	return out
}
