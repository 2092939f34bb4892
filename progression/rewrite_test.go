package progression

import (
	"testing"

	"github.com/purushoth411/postmanback/domain"
)

func TestRewriteSequence(t *testing.T) {
	tests := []struct {
		name   string
		seq    domain.Sequence
		closed []domain.MilestoneID
		ledger domain.Ledger
		want   domain.Sequence
	}{
		{"discussion drops call step", domain.Sequence{67, 80}, []domain.MilestoneID{54}, nil, domain.Sequence{80, 54}},
		{"discussion keeps call step once completed", domain.Sequence{67, 80}, []domain.MilestoneID{54}, domain.Ledger{{MilestoneID: 67, ClosedBy: 7}}, domain.Sequence{67, 80, 54}},
		{"discussion already present", domain.Sequence{54, 67}, []domain.MilestoneID{54}, domain.Ledger{{MilestoneID: 54, ClosedBy: 0}}, domain.Sequence{54, 67}},
		{"call inserts email", domain.Sequence{54, 67, 80}, []domain.MilestoneID{67}, nil, domain.Sequence{54, 67, 68, 80}},
		{"call with email present", domain.Sequence{67, 80, 68}, []domain.MilestoneID{67}, nil, domain.Sequence{67, 80, 68}},
		{"email inserts follow ups", domain.Sequence{67, 68, 80}, []domain.MilestoneID{68}, nil, domain.Sequence{67, 68, 69, 70, 80}},
		{"email keeps existing follow up", domain.Sequence{67, 68, 70}, []domain.MilestoneID{68}, nil, domain.Sequence{67, 68, 69, 70}},
		{"email at end clamps", domain.Sequence{68}, []domain.MilestoneID{68}, nil, domain.Sequence{68, 69, 70}},
		{"reply drops not replied", domain.Sequence{67, 68, 69, 70}, []domain.MilestoneID{69}, nil, domain.Sequence{67, 68, 69, 71, 72}},
		{"reply without anchor only removes", domain.Sequence{67, 68, 70}, []domain.MilestoneID{69}, nil, domain.Sequence{67, 68}},
		{"interested drops not interested", domain.Sequence{67, 68, 69, 71, 72}, []domain.MilestoneID{71}, nil, domain.Sequence{67, 68, 69, 71}},
		{"not replied collapses", domain.Sequence{54, 67, 68, 69}, []domain.MilestoneID{70}, nil, domain.Sequence{67, 68, 70}},
		{"not interested collapses", domain.Sequence{54, 67, 68, 69, 71, 72}, []domain.MilestoneID{72}, nil, domain.Sequence{67, 68, 69, 72}},
		{"both negative outcomes", domain.Sequence{54}, []domain.MilestoneID{70, 72}, nil, domain.Sequence{67, 68, 70, 69, 72}},
		{"unrelated milestone", domain.Sequence{1, 2}, []domain.MilestoneID{2}, nil, domain.Sequence{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RewriteSequence(tt.seq, tt.closed, tt.ledger)
			if !got.Equal(tt.want) {
				t.Fatalf("RewriteSequence(%v, %v) = %v, want %v", tt.seq, tt.closed, got, tt.want)
			}
		})
	}
}

func TestRewriteSequenceDoesNotModifyInput(t *testing.T) {
	seq := domain.Sequence{67, 68}
	_ = RewriteSequence(seq, []domain.MilestoneID{68, 69}, nil)
	if !seq.Equal(domain.Sequence{67, 68}) {
		t.Fatalf("input modified: %v", seq)
	}
}

func TestRewriteDiscussionTwiceIsStable(t *testing.T) {
	once := RewriteSequence(domain.Sequence{67, 80}, []domain.MilestoneID{54}, nil)
	twice := RewriteSequence(once, []domain.MilestoneID{54}, nil)
	if !once.Equal(twice) {
		t.Fatalf("expected stable result, got %v then %v", once, twice)
	}
}
