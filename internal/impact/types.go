package impact

// Confidence is the three-tier certainty of a report.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

const (
	lowConfidenceAbove    = 5
	mediumConfidenceAbove = 2
)

// ConfidenceFor maps a breaking-change count to a tier.
func ConfidenceFor(breaking int) Confidence {
	switch {
	case breaking > lowConfidenceAbove:
		return ConfidenceLow
	case breaking > mediumConfidenceAbove:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}

// TestKind separates targeted suggestions from the full-suite fallback.
type TestKind string

const (
	TestUnit        TestKind = "unit"
	TestIntegration TestKind = "integration"
	TestDiscovered  TestKind = "discovered"
	TestFullSuite   TestKind = "full_suite"
)

// TestSuggestion is one suggested test target.
type TestSuggestion struct {
	Kind   TestKind `json:"kind"`
	Target string   `json:"target"`
	Reason string   `json:"reason,omitempty"`
}

// Report is the outcome of analysing a batch.
type Report struct {
	AffectedFiles            []string   `json:"affected_files"`
	PotentialBreakingChanges []string   `json:"potential_breaking_changes"`
	SuggestedTests           []string   `json:"suggested_tests"`
	Confidence               Confidence `json:"confidence"`

	// Tests carries the structured form of SuggestedTests.
	Tests []TestSuggestion `json:"tests,omitempty"`
	// RelatedCount is the number of distinct related files across the batch.
	RelatedCount int `json:"related_count"`
	// Notes lists limitations hit while analysing, such as unparsable files.
	Notes []string `json:"notes,omitempty"`
}

// AddNote adds a limitation note to the report.
func (r *Report) AddNote(note string) {
	r.Notes = append(r.Notes, note)
}
