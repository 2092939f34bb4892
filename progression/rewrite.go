package progression

import (
	"context"

	"github.com/purushoth411/postmanback/domain"
)

// Milestones driving the query task rewrite.
const (
	milestoneDiscussionDone    domain.MilestoneID = 54
	milestoneCallNotAnswered   domain.MilestoneID = 67
	milestoneEmailSent         domain.MilestoneID = 68
	milestoneReplied           domain.MilestoneID = 69
	milestoneNotReplied        domain.MilestoneID = 70
	milestoneInterested        domain.MilestoneID = 71
	milestoneNotInterested     domain.MilestoneID = 72
	milestoneQueryViewBoundary domain.MilestoneID = 28
)

type rewriteRule struct {
	applies func(closed map[domain.MilestoneID]bool) bool
	apply   func(seq domain.Sequence, closed map[domain.MilestoneID]bool, ledger domain.Ledger) domain.Sequence
}

func closedOne(id domain.MilestoneID) func(map[domain.MilestoneID]bool) bool {
	return func(closed map[domain.MilestoneID]bool) bool { return closed[id] }
}

// queryRules run in order; each sees the sequence written by the previous one.
var queryRules = []rewriteRule{
	{
		applies: closedOne(milestoneDiscussionDone),
		apply: func(seq domain.Sequence, _ map[domain.MilestoneID]bool, ledger domain.Ledger) domain.Sequence {
			if !ledger.Has(milestoneDiscussionDone) && !ledger.Has(milestoneCallNotAnswered) {
				seq = seq.Remove(milestoneCallNotAnswered)
			}
			return seq.AppendMissing(milestoneDiscussionDone)
		},
	},
	{
		applies: closedOne(milestoneCallNotAnswered),
		apply: func(seq domain.Sequence, _ map[domain.MilestoneID]bool, _ domain.Ledger) domain.Sequence {
			if seq.Contains(milestoneCallNotAnswered) && !seq.Contains(milestoneEmailSent) {
				return seq.InsertAfter(milestoneCallNotAnswered, milestoneEmailSent)
			}
			return seq.Clone()
		},
	},
	{
		applies: closedOne(milestoneEmailSent),
		apply: func(seq domain.Sequence, _ map[domain.MilestoneID]bool, _ domain.Ledger) domain.Sequence {
			return insertFollowUps(seq, milestoneEmailSent, milestoneReplied, milestoneNotReplied)
		},
	},
	{
		applies: closedOne(milestoneReplied),
		apply: func(seq domain.Sequence, _ map[domain.MilestoneID]bool, _ domain.Ledger) domain.Sequence {
			seq = seq.Remove(milestoneNotReplied)
			return insertFollowUps(seq, milestoneReplied, milestoneInterested, milestoneNotInterested)
		},
	},
	{
		applies: closedOne(milestoneInterested),
		apply: func(seq domain.Sequence, _ map[domain.MilestoneID]bool, _ domain.Ledger) domain.Sequence {
			return seq.Remove(milestoneNotInterested)
		},
	},
	{
		applies: func(closed map[domain.MilestoneID]bool) bool {
			return closed[milestoneNotReplied] || closed[milestoneNotInterested]
		},
		apply: func(_ domain.Sequence, closed map[domain.MilestoneID]bool, _ domain.Ledger) domain.Sequence {
			seq := domain.Sequence{milestoneCallNotAnswered, milestoneEmailSent}
			if closed[milestoneNotReplied] {
				seq = append(seq, milestoneNotReplied)
			}
			if closed[milestoneNotInterested] {
				seq = append(seq, milestoneReplied, milestoneNotInterested)
			}
			return seq
		},
	},
}

// insertFollowUps places first and second at the two positions after anchor,
// each unless already present. Both positions are taken from the anchor's
// original index.
func insertFollowUps(seq domain.Sequence, anchor, first, second domain.MilestoneID) domain.Sequence {
	idx := seq.Index(anchor)
	if idx < 0 {
		return seq.Clone()
	}
	out := seq.Clone()
	if !out.Contains(first) {
		out = out.InsertAt(idx+1, first)
	}
	if !out.Contains(second) {
		out = out.InsertAt(idx+2, second)
	}
	return out
}

// RewriteSequence applies the query task rules to seq without persisting.
func RewriteSequence(seq domain.Sequence, closedIDs []domain.MilestoneID, ledger domain.Ledger) domain.Sequence {
	closed := closedSet(closedIDs)
	cur := seq.Clone()
	for _, r := range queryRules {
		if r.applies(closed) {
			cur = r.apply(cur, closed, ledger)
		}
	}
	return cur
}

// rewriteQuerySequence applies every matching rule and persists each result
// before the next rule runs.
func rewriteQuerySequence(ctx context.Context, tx Tx, t *domain.Task, closedIDs []domain.MilestoneID) error {
	closed := closedSet(closedIDs)
	for _, r := range queryRules {
		if !r.applies(closed) {
			continue
		}
		next := r.apply(t.Sequence, closed, t.Ledger)
		if err := tx.OverwriteSequence(ctx, t.ID, next); err != nil {
			return err
		}
		t.Sequence = next
	}
	return nil
}

func closedSet(ids []domain.MilestoneID) map[domain.MilestoneID]bool {
	out := make(map[domain.MilestoneID]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
