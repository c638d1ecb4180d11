package dashboard

import (
	"strings"
	"testing"
)

func TestBuildFunnelMonotonicReach(t *testing.T) {
	counts := map[string]int{
		"consent":       4,
		"personal_data": 3,
		"bant":          2,
		"meeting":       1,
		"completed":     2,
		"abandoned":     3,
	}

	funnel := buildFunnel(counts)

	if len(funnel) != 7 {
		t.Fatalf("expected 7 stages, got %d", len(funnel))
	}
	// start reach = all leads: 4+3+2+1+2 in-funnel + 3 abandoned = 15.
	if funnel[0].Stage != "start" || funnel[0].Count != 15 {
		t.Fatalf("unexpected start stage: %+v", funnel[0])
	}
	for i := 1; i < len(funnel); i++ {
		if funnel[i].Count > funnel[i-1].Count {
			t.Fatalf("funnel not monotonic at %s: %d > %d",
				funnel[i].Stage, funnel[i].Count, funnel[i-1].Count)
		}
	}
	// completed reach = 2, meeting reach = 3 → 66.7% conversion.
	last := funnel[len(funnel)-1]
	if last.Stage != "completed" || last.Count != 2 {
		t.Fatalf("unexpected completed stage: %+v", last)
	}
	if last.ConversionRate < 66.0 || last.ConversionRate > 67.0 {
		t.Fatalf("unexpected completed conversion rate: %f", last.ConversionRate)
	}
}

func TestBuildFunnelEmpty(t *testing.T) {
	funnel := buildFunnel(map[string]int{})
	for _, stage := range funnel {
		if stage.Count != 0 || stage.ConversionRate != 0 {
			t.Fatalf("expected empty funnel, got %+v", stage)
		}
	}
}

func TestCutoffForRejectsUnknownRange(t *testing.T) {
	if _, err := cutoffFor("quarter"); err == nil {
		t.Fatal("expected unknown date range to be rejected")
	}
	if cutoff, err := cutoffFor("all"); err != nil || !cutoff.IsZero() {
		t.Fatalf("expected zero cutoff for all, got %v %v", cutoff, err)
	}
}

func TestTruncateCountsRunes(t *testing.T) {
	long := strings.Repeat("ñ", 150)
	got := truncate(long, 100)
	if runes := []rune(got); len(runes) != 101 { // 100 + ellipsis
		t.Fatalf("expected 101 runes, got %d", len(runes))
	}
	if truncate("corto", 100) != "corto" {
		t.Fatal("expected short content to pass through")
	}
}
