package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/graphweave/researcher/internal/research"
)

// EntityCreator is the slice of Client that persistence needs.
type EntityCreator interface {
	CreateEntity(ctx context.Context, req CreateEntityRequest) (*Entity, error)
}

// PersistedEntity maps a proposal's local id to its stored graph id.
type PersistedEntity struct {
	LocalID      string `json:"local_id"`
	GraphID      string `json:"graph_id"`
	EntityTypeID string `json:"entity_type_id"`
}

// PersistFailure explains why one proposal was not stored. Failures are
// per-entity; the rest of the batch still proceeds.
type PersistFailure struct {
	LocalID string `json:"local_id"`
	Reason  string `json:"reason"`
}

// PersistResult is the outcome of persisting one batch of proposals.
type PersistResult struct {
	Persisted []PersistedEntity `json:"persisted"`
	Failures  []PersistFailure  `json:"failures"`
}

// Persist stores a batch of proposed entities in two phases: all non-link
// entities first, then links with their endpoint refs resolved against the
// ids created in phase one. A link whose endpoint failed to persist records a
// failure reason instead of aborting the batch.
func Persist(ctx context.Context, creator EntityCreator, proposals []research.ProposedEntity) (*PersistResult, error) {
	result := &PersistResult{}
	created := make(map[string]string, len(proposals)) // local id -> graph id

	var links []research.ProposedEntity
	for _, p := range proposals {
		if p.IsLink() {
			links = append(links, p)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entity, err := creator.CreateEntity(ctx, CreateEntityRequest{
			EntityTypeID: p.EntityTypeID,
			Properties:   p.Properties,
			Provenance:   provenanceOf(p),
		})
		if err != nil {
			result.Failures = append(result.Failures, PersistFailure{LocalID: p.LocalID, Reason: err.Error()})
			continue
		}
		created[p.LocalID] = entity.ID
		result.Persisted = append(result.Persisted, PersistedEntity{
			LocalID:      p.LocalID,
			GraphID:      entity.ID,
			EntityTypeID: p.EntityTypeID,
		})
	}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sourceID, err := resolveRef(link.Source, created)
		if err != nil {
			result.Failures = append(result.Failures, PersistFailure{
				LocalID: link.LocalID, Reason: fmt.Sprintf("source: %v", err)})
			continue
		}
		targetID, err := resolveRef(link.Target, created)
		if err != nil {
			result.Failures = append(result.Failures, PersistFailure{
				LocalID: link.LocalID, Reason: fmt.Sprintf("target: %v", err)})
			continue
		}
		entity, err := creator.CreateEntity(ctx, CreateEntityRequest{
			EntityTypeID: link.EntityTypeID,
			Properties:   link.Properties,
			LinkData:     &LinkData{SourceEntityID: sourceID, TargetEntityID: targetID},
			Provenance:   provenanceOf(link),
		})
		if err != nil {
			result.Failures = append(result.Failures, PersistFailure{LocalID: link.LocalID, Reason: err.Error()})
			continue
		}
		created[link.LocalID] = entity.ID
		result.Persisted = append(result.Persisted, PersistedEntity{
			LocalID:      link.LocalID,
			GraphID:      entity.ID,
			EntityTypeID: link.EntityTypeID,
		})
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].LocalID < result.Failures[j].LocalID
	})
	return result, nil
}

func resolveRef(ref *research.EntityRef, created map[string]string) (string, error) {
	if ref == nil {
		return "", fmt.Errorf("link endpoint missing")
	}
	switch ref.Kind {
	case research.RefExisting:
		if ref.ExternalID == "" {
			return "", fmt.Errorf("existing ref has empty external id")
		}
		return ref.ExternalID, nil
	case research.RefProposed:
		graphID, ok := created[ref.LocalID]
		if !ok {
			return "", fmt.Errorf("proposed entity %q was not persisted", ref.LocalID)
		}
		return graphID, nil
	default:
		return "", fmt.Errorf("unknown ref kind %q", ref.Kind)
	}
}

func provenanceOf(p research.ProposedEntity) []ProvenanceRecord {
	if len(p.Provenance) == 0 {
		return nil
	}
	out := make([]ProvenanceRecord, 0, len(p.Provenance))
	for _, src := range p.Provenance {
		out = append(out, ProvenanceRecord{SourceURL: src.URL, Title: src.Title, LoadedAt: src.LoadedAt})
	}
	return out
}
