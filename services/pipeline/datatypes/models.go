package datatypes

import "time"

// DocumentKind distinguishes the document chains managed by the store.
type DocumentKind string

const (
	// KindBRD is an uploaded business requirement document.
	KindBRD DocumentKind = "BRD"
	// KindFRD is a functional requirement document derived from a BRD.
	KindFRD DocumentKind = "FRD"
	// KindTestcases is a test-case set chain attached to an FRD.
	KindTestcases DocumentKind = "TESTCASES"
)

// VersionStatus tags a version's place in the transformation lifecycle.
type VersionStatus string

const (
	StatusDraft       VersionStatus = "draft"
	StatusAnalyzed    VersionStatus = "analyzed"
	StatusFixProposed VersionStatus = "fix_proposed"
	StatusApplied     VersionStatus = "applied"
	StatusReverted    VersionStatus = "reverted"
)

// Severity levels for anomalies, matching the model's output contract.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityRank orders severities for merge tie-breaking. Unknown values
// rank below low so malformed model output never wins a dedupe conflict.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is the immutable identity of one version chain. Only the head
// pointer fields change after creation, and only inside the same store
// transaction that appends the version they point at.
type Document struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	Kind      DocumentKind `json:"kind"`

	// DocNumber is allocated per project per kind: 1, 2, 3, ...
	DocNumber int `json:"doc_number"`

	// SourceDocumentID links a TESTCASES chain back to the functional
	// document it was generated from. Empty for BRD/FRD documents.
	SourceDocumentID string `json:"source_document_id,omitempty"`

	// HeadSeq and HeadID reference the current head version.
	// HeadSeq is 0 until the first version is appended.
	HeadSeq int    `json:"head_seq"`
	HeadID  string `json:"head_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Version is one link in a document's forward-only chain. Versions are never
// mutated or deleted; reverts append a new version that copies older content.
type Version struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`

	// Seq is 1-based and strictly increasing within the document.
	Seq int `json:"seq"`

	// ParentID is the version this one was derived from, empty for the
	// first version in a chain.
	ParentID string `json:"parent_id,omitempty"`

	Status VersionStatus `json:"status"`

	// ContentPath locates the content blob; version records never embed
	// document content.
	ContentPath string `json:"content_path"`

	// Anomalies is set on analyzed versions.
	Anomalies *AnomalySet `json:"anomalies,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Span is a half-open byte range [Start, End) into a version's content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Overlap returns the number of overlapping bytes between two spans.
func (s Span) Overlap(o Span) int {
	lo := max(s.Start, o.Start)
	hi := min(s.End, o.End)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

func (s Span) Len() int { return s.End - s.Start }

// Anomaly is one finding from the analyzer. IDs are assigned at reduce time
// and are stable within the version the analysis was committed on; fix
// proposals join on them.
type Anomaly struct {
	ID         int      `json:"id"`
	ChunkIndex int      `json:"chunk_index"`
	Section    string   `json:"section,omitempty"`
	Category   string   `json:"category"`
	Issue      string   `json:"issue"`
	Suggestion string   `json:"suggestion,omitempty"`
	Severity   Severity `json:"severity"`

	// Location is the document-global byte range the finding refers to.
	Location Span `json:"location"`
}

// ChunkFailure marks a chunk whose completion calls exhausted their retry
// budget. The analysis still commits; the marker records the gap.
type ChunkFailure struct {
	ChunkIndex int    `json:"chunk_index"`
	Location   Span   `json:"location"`
	Error      string `json:"error"`
}

// AnomalySet is the merged result of a map-reduce analysis.
type AnomalySet struct {
	Anomalies []Anomaly `json:"anomalies"`

	// Partial is true when one or more chunks failed after retries.
	Partial  bool           `json:"partial,omitempty"`
	Failures []ChunkFailure `json:"failures,omitempty"`
}

// FindAnomaly returns the anomaly with the given id, or nil.
func (s *AnomalySet) FindAnomaly(id int) *Anomaly {
	for i := range s.Anomalies {
		if s.Anomalies[i].ID == id {
			return &s.Anomalies[i]
		}
	}
	return nil
}

// ProposalStatus tracks a fix proposal's lifecycle.
type ProposalStatus string

const (
	ProposalProposed  ProposalStatus = "proposed"
	ProposalApplied   ProposalStatus = "applied"
	ProposalDiscarded ProposalStatus = "discarded"
)

// Fix is the model's suggested resolution for one selected anomaly.
type Fix struct {
	AnomalyID int    `json:"anomaly_id"`
	Section   string `json:"section,omitempty"`
	Issue     string `json:"issue"`
	Fix       string `json:"fix"`
}

// FixProposal holds generated replacement content that has not yet been
// committed to the version chain.
type FixProposal struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`

	// VersionID is the version the proposal was raised against. Apply
	// uses it as the expected parent, so a moved head surfaces as a
	// conflict.
	VersionID string `json:"version_id"`

	SelectedIDs []int `json:"selected_ids"`
	Fixes       []Fix `json:"fixes"`

	// ContentPath locates the generated replacement content blob.
	ContentPath string `json:"content_path"`

	Status    ProposalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	AppliedAt *time.Time     `json:"applied_at,omitempty"`
}

// TestCase follows the original generation contract:
// {id, title, preconditions, steps, expected, priority}.
type TestCase struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Preconditions []string `json:"preconditions,omitempty"`
	Steps         []string `json:"steps"`
	Expected      string   `json:"expected"`
	Priority      string   `json:"priority,omitempty"` // P0|P1|P2
}

// TestcaseSet is the content blob of a TESTCASES document version.
type TestcaseSet struct {
	Cases []TestCase `json:"testcases"`
}
