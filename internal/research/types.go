package research

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RefKind discriminates whether an entity reference points at a proposed
// entity from this run or at an entity that already exists in the graph.
type RefKind string

const (
	RefProposed RefKind = "proposed"
	RefExisting RefKind = "existing"
)

// EntityRef is a tagged reference to either a proposed or an existing entity.
type EntityRef struct {
	Kind       RefKind `json:"kind"`
	LocalID    string  `json:"local_id,omitempty"`
	ExternalID string  `json:"external_id,omitempty"`
}

// ProposedRef builds a reference to a proposed entity by local id.
func ProposedRef(localID string) EntityRef {
	return EntityRef{Kind: RefProposed, LocalID: localID}
}

// ExistingRef builds a reference to an entity already persisted in the graph.
func ExistingRef(externalID string) EntityRef {
	return EntityRef{Kind: RefExisting, ExternalID: externalID}
}

// EntitySummary is a lightweight record of an entity discovered during
// research. Local ids are opaque and unique only within one coordinator run.
type EntitySummary struct {
	LocalID      string `json:"local_id"`
	Name         string `json:"name"`
	Summary      string `json:"summary"`
	EntityTypeID string `json:"entity_type_id"`
}

// Claim is a single statement inferred from a resource, tied to entity
// summaries by local id.
type Claim struct {
	SubjectLocalID       string   `json:"subject_local_id"`
	ObjectLocalID        string   `json:"object_local_id,omitempty"`
	Text                 string   `json:"text"`
	PrepositionalPhrases []string `json:"prepositional_phrases,omitempty"`
	SourceURL            string   `json:"source_url,omitempty"`
}

// SourceRef records where a proposed entity's information came from.
type SourceRef struct {
	URL       string    `json:"url"`
	Title     string    `json:"title,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	MediaType string    `json:"media_type,omitempty"`
}

// ProposedEntity is an output-shaped entity or link ready for persistence.
// Source/Target are set only for link entities.
type ProposedEntity struct {
	LocalID      string                 `json:"local_id"`
	EntityTypeID string                 `json:"entity_type_id"`
	Properties   map[string]interface{} `json:"properties"`
	Source       *EntityRef             `json:"source,omitempty"`
	Target       *EntityRef             `json:"target,omitempty"`
	Provenance   []SourceRef            `json:"provenance,omitempty"`
}

// IsLink reports whether the proposed entity is a link entity.
func (p ProposedEntity) IsLink() bool {
	return p.Source != nil || p.Target != nil
}

// CompletedToolCall is one entry in the append-only transcript replayed into
// the model's context on each iteration.
type CompletedToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Args       json.RawMessage `json:"args"`
	Output     string          `json:"output"`
	IsError    bool            `json:"is_error"`
	MadeAt     time.Time       `json:"made_at"`
}

// DuplicateGroup names one canonical entity and the local ids that the
// deduplication agent judged to be duplicates of it.
type DuplicateGroup struct {
	CanonicalLocalID  string   `json:"canonical_local_id"`
	DuplicateLocalIDs []string `json:"duplicate_local_ids"`
}

// IDSource issues process-local entity and call ids. Injectable so tests can
// use deterministic counters.
type IDSource func() string

// NewIDSource returns a uuid-backed id source.
func NewIDSource() IDSource {
	return func() string { return uuid.New().String() }
}
