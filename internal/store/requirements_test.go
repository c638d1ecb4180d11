package store

import (
	"reflect"
	"testing"
)

func TestRequirementItemNames(t *testing.T) {
	desc := "dashboards"
	items := []NewRequirementItem{
		{Name: "reporting", Description: &desc},
		{Name: ""},
		{Name: "payments"},
		{Name: "reporting"},
	}

	got := requirementItemNames(items)
	want := []string{"reporting", "payments"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	// An empty package keeps nothing: the prune set must be empty, not nil-skipped.
	if got := requirementItemNames(nil); len(got) != 0 {
		t.Fatalf("expected no surviving names, got %v", got)
	}
}
