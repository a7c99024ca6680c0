package scenario

import (
	"fmt"
	"testing"
)

func TestForCallIsDeterministic(t *testing.T) {
	ids := []string{"CA123", "CAabcdef0123456789", "", "call-2026-10-14"}
	for _, id := range ids {
		first := ForCall(id)
		for i := 0; i < 5; i++ {
			if got := ForCall(id); got != first {
				t.Fatalf("ForCall(%q) changed: %q then %q", id, first, got)
			}
		}
	}
}

func TestAssignmentIsRoughlyUniform(t *testing.T) {
	const calls = 15000
	counts := make([]int, len(Catalog))
	for i := 0; i < calls; i++ {
		counts[IndexFor(fmt.Sprintf("CA%032d", i), len(Catalog))]++
	}
	expected := calls / len(Catalog)
	for idx, n := range counts {
		if n < expected*7/10 || n > expected*13/10 {
			t.Fatalf("scenario %d assigned %d times, expected about %d (counts=%v)", idx, n, expected, counts)
		}
	}
}

func TestIndexForEmptyCatalog(t *testing.T) {
	if got := IndexFor("CA1", 0); got != 0 {
		t.Fatalf("IndexFor with empty catalog = %d, want 0", got)
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		text string
		want []Category
	}{
		{"Reschedule a post-surgery follow-up appointment", []Category{CategoryScheduling}},
		{"Need a REFILL of my prescription", []Category{CategoryPrescription}},
		{"Schedule a prescription refill appointment", []Category{CategoryScheduling, CategoryPrescription}},
		{"Ask about office location and parking", []Category{CategoryOther}},
	}
	for _, tt := range tests {
		got := Categories(tt.text)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Fatalf("Categories(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
	if !HasCategory("Cancel an upcoming appointment", CategoryScheduling) {
		t.Fatal("expected cancel appointment to be scheduling")
	}
}
