// Package scenario holds the fixed catalog of patient test situations and
// the deterministic mapping from call id to scenario.
package scenario

import (
	"hash/fnv"
	"strings"
)

type Category string

const (
	CategoryScheduling   Category = "scheduling"
	CategoryPrescription Category = "prescription"
	CategoryOther        Category = "other"
)

// Catalog is ordered; assignment indexes into it, so entries must only be appended.
var Catalog = []string{
	// Orthopedics
	"Schedule an appointment for knee pain that started after running",
	"Request a follow-up appointment after recent knee surgery",
	"Ask about treatment options for shoulder pain",
	"Schedule an appointment for back pain that's been ongoing for weeks",
	"Request an MRI or X-ray appointment for hip pain",
	"Ask if they treat sports injuries and torn ACL",
	"Reschedule a post-surgery follow-up appointment",
	"Ask about physical therapy referrals for ankle sprain",
	"Schedule a consultation for arthritis in hands",
	"Ask about office hours and if they accept workers' compensation",
	// General office
	"Cancel an upcoming appointment",
	"Ask about office location and parking",
	"Request medical records from previous visit",
	"Ask if they accept Medicare or specific insurance",
	"Schedule an urgent same-day appointment for injury",
}

var (
	SchedulingKeywords   = []string{"schedule", "appointment", "reschedule"}
	PrescriptionKeywords = []string{"refill", "prescription"}
)

// StableHash is FNV-1a over the call id. It must not change between
// releases or retried calls will switch scenarios.
func StableHash(callID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(callID))
	return h.Sum32()
}

func IndexFor(callID string, size int) int {
	if size <= 0 {
		return 0
	}
	return int(StableHash(callID) % uint32(size))
}

func ForCall(callID string) string {
	return Catalog[IndexFor(callID, len(Catalog))]
}

// Categories infers tags by keyword. A scenario may be in several categories;
// CategoryOther is returned only when nothing else matches.
func Categories(text string) []Category {
	var out []Category
	if ContainsAny(text, SchedulingKeywords) {
		out = append(out, CategoryScheduling)
	}
	if ContainsAny(text, PrescriptionKeywords) {
		out = append(out, CategoryPrescription)
	}
	if len(out) == 0 {
		out = append(out, CategoryOther)
	}
	return out
}

func HasCategory(text string, c Category) bool {
	for _, got := range Categories(text) {
		if got == c {
			return true
		}
	}
	return false
}

// ContainsAny reports whether text contains any keyword, case-insensitively.
func ContainsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
