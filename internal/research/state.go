package research

import (
	"fmt"
	"sort"
	"time"
)

// State is the full mutable record of one coordinator run. The loop treats it
// as a value: every fold clones the previous state, mutates the clone, and
// threads the clone into the next iteration, which makes checkpoint/resume a
// plain replacement and keeps concurrent sub-task agents isolated.
type State struct {
	Plan                  string              `json:"plan"`
	EntitySummaries       []EntitySummary     `json:"entity_summaries"`
	InferredClaims        []Claim             `json:"inferred_claims"`
	ProposedEntities      []ProposedEntity    `json:"proposed_entities"`
	SubmittedEntityIDs    []string            `json:"submitted_entity_ids"`
	PreviousCalls         []CompletedToolCall `json:"previous_calls"`
	ResourceURLsVisited   []string            `json:"resource_urls_visited"`
	ResourcesNotVisited   []string            `json:"resources_not_visited"`
	WebQueriesMade        []string            `json:"web_queries_made"`
	HasConductedCheckStep bool                `json:"has_conducted_check_step"`
	StartedAt             time.Time           `json:"started_at"`
}

// NewState returns a fresh state for the start of a coordinator run.
func NewState(now time.Time) *State {
	return &State{StartedAt: now}
}

// Clone deep-copies the state so a fold can mutate freely.
func (s *State) Clone() *State {
	c := *s
	c.EntitySummaries = append([]EntitySummary(nil), s.EntitySummaries...)
	c.InferredClaims = append([]Claim(nil), s.InferredClaims...)
	c.SubmittedEntityIDs = append([]string(nil), s.SubmittedEntityIDs...)
	c.PreviousCalls = append([]CompletedToolCall(nil), s.PreviousCalls...)
	c.ResourceURLsVisited = append([]string(nil), s.ResourceURLsVisited...)
	c.ResourcesNotVisited = append([]string(nil), s.ResourcesNotVisited...)
	c.WebQueriesMade = append([]string(nil), s.WebQueriesMade...)
	c.ProposedEntities = make([]ProposedEntity, len(s.ProposedEntities))
	for i, p := range s.ProposedEntities {
		cp := p
		cp.Properties = make(map[string]interface{}, len(p.Properties))
		for k, v := range p.Properties {
			cp.Properties[k] = v
		}
		if p.Source != nil {
			src := *p.Source
			cp.Source = &src
		}
		if p.Target != nil {
			tgt := *p.Target
			cp.Target = &tgt
		}
		cp.Provenance = append([]SourceRef(nil), p.Provenance...)
		c.ProposedEntities[i] = cp
	}
	return &c
}

// SummaryByLocalID looks up an entity summary.
func (s *State) SummaryByLocalID(id string) (EntitySummary, bool) {
	for _, es := range s.EntitySummaries {
		if es.LocalID == id {
			return es, true
		}
	}
	return EntitySummary{}, false
}

// ProposedByLocalID looks up a proposed entity.
func (s *State) ProposedByLocalID(id string) (ProposedEntity, bool) {
	for _, p := range s.ProposedEntities {
		if p.LocalID == id {
			return p, true
		}
	}
	return ProposedEntity{}, false
}

// AddSummaries appends summaries, skipping local ids already present.
func (s *State) AddSummaries(summaries []EntitySummary) {
	seen := make(map[string]bool, len(s.EntitySummaries))
	for _, es := range s.EntitySummaries {
		seen[es.LocalID] = true
	}
	for _, es := range summaries {
		if !seen[es.LocalID] {
			s.EntitySummaries = append(s.EntitySummaries, es)
			seen[es.LocalID] = true
		}
	}
}

// AddClaims appends claims whose subject (and object, if set) resolve to a
// known summary; dangling references are returned as errors rather than
// stored.
func (s *State) AddClaims(claims []Claim) []error {
	var errs []error
	for _, c := range claims {
		if _, ok := s.SummaryByLocalID(c.SubjectLocalID); !ok {
			errs = append(errs, fmt.Errorf("claim %q references unknown subject %q", c.Text, c.SubjectLocalID))
			continue
		}
		if c.ObjectLocalID != "" {
			if _, ok := s.SummaryByLocalID(c.ObjectLocalID); !ok {
				errs = append(errs, fmt.Errorf("claim %q references unknown object %q", c.Text, c.ObjectLocalID))
				continue
			}
		}
		s.InferredClaims = append(s.InferredClaims, c)
	}
	return errs
}

// ApplyDuplicates collapses each duplicate group onto its canonical id:
// duplicate summaries are dropped, claim subject/object references are
// rewritten, proposed-entity link endpoints are remapped, and the submitted
// set is re-uniqued. Claim content is preserved; claim identity is not.
func (s *State) ApplyDuplicates(groups []DuplicateGroup) {
	if len(groups) == 0 {
		return
	}
	canonical := make(map[string]string)
	for _, g := range groups {
		for _, dup := range g.DuplicateLocalIDs {
			if dup == g.CanonicalLocalID {
				continue
			}
			canonical[dup] = g.CanonicalLocalID
		}
	}
	if len(canonical) == 0 {
		return
	}
	resolve := func(id string) string {
		// Follow chains in case a canonical id is itself a duplicate in
		// another group.
		for i := 0; i < len(canonical); i++ {
			next, ok := canonical[id]
			if !ok {
				return id
			}
			id = next
		}
		return id
	}

	kept := s.EntitySummaries[:0]
	for _, es := range s.EntitySummaries {
		if _, isDup := canonical[es.LocalID]; !isDup {
			kept = append(kept, es)
		}
	}
	s.EntitySummaries = kept

	for i := range s.InferredClaims {
		s.InferredClaims[i].SubjectLocalID = resolve(s.InferredClaims[i].SubjectLocalID)
		if s.InferredClaims[i].ObjectLocalID != "" {
			s.InferredClaims[i].ObjectLocalID = resolve(s.InferredClaims[i].ObjectLocalID)
		}
	}

	for i := range s.ProposedEntities {
		if ref := s.ProposedEntities[i].Source; ref != nil && ref.Kind == RefProposed {
			ref.LocalID = resolve(ref.LocalID)
		}
		if ref := s.ProposedEntities[i].Target; ref != nil && ref.Kind == RefProposed {
			ref.LocalID = resolve(ref.LocalID)
		}
	}

	remapped := make([]string, 0, len(s.SubmittedEntityIDs))
	seen := make(map[string]bool, len(s.SubmittedEntityIDs))
	for _, id := range s.SubmittedEntityIDs {
		r := resolve(id)
		if !seen[r] {
			remapped = append(remapped, r)
			seen[r] = true
		}
	}
	s.SubmittedEntityIDs = remapped
}

// Submit flags proposed entities as part of the final result. Unknown ids are
// returned so the caller can report them back to the model; known ids are
// recorded exactly once.
func (s *State) Submit(localIDs []string) (unknown []string) {
	known := make(map[string]bool, len(s.ProposedEntities))
	for _, p := range s.ProposedEntities {
		known[p.LocalID] = true
	}
	already := make(map[string]bool, len(s.SubmittedEntityIDs))
	for _, id := range s.SubmittedEntityIDs {
		already[id] = true
	}
	for _, id := range localIDs {
		switch {
		case !known[id]:
			unknown = append(unknown, id)
		case !already[id]:
			s.SubmittedEntityIDs = append(s.SubmittedEntityIDs, id)
			already[id] = true
		}
	}
	return unknown
}

// SubmittedEntities returns the proposed entities the model flagged for the
// final result, in submission order.
func (s *State) SubmittedEntities() []ProposedEntity {
	out := make([]ProposedEntity, 0, len(s.SubmittedEntityIDs))
	for _, id := range s.SubmittedEntityIDs {
		if p, ok := s.ProposedByLocalID(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// MarkVisited moves a URL from the not-visited queue into the visited set.
func (s *State) MarkVisited(url string) {
	for _, v := range s.ResourceURLsVisited {
		if v == url {
			return
		}
	}
	s.ResourceURLsVisited = append(s.ResourceURLsVisited, url)
	pruned := s.ResourcesNotVisited[:0]
	for _, u := range s.ResourcesNotVisited {
		if u != url {
			pruned = append(pruned, u)
		}
	}
	s.ResourcesNotVisited = pruned
}

// QueueResources adds URLs to the not-visited queue, skipping ones already
// visited or queued.
func (s *State) QueueResources(urls []string) {
	visited := make(map[string]bool, len(s.ResourceURLsVisited))
	for _, u := range s.ResourceURLsVisited {
		visited[u] = true
	}
	queued := make(map[string]bool, len(s.ResourcesNotVisited))
	for _, u := range s.ResourcesNotVisited {
		queued[u] = true
	}
	for _, u := range urls {
		if u != "" && !visited[u] && !queued[u] {
			s.ResourcesNotVisited = append(s.ResourcesNotVisited, u)
			queued[u] = true
		}
	}
}

// RecordQuery remembers a web query so the model can avoid repeating it.
func (s *State) RecordQuery(query string) {
	for _, q := range s.WebQueriesMade {
		if q == query {
			return
		}
	}
	s.WebQueriesMade = append(s.WebQueriesMade, query)
}

// ClaimsAbout returns claims whose subject or object is the given local id,
// sorted by text for stable rendering.
func (s *State) ClaimsAbout(localID string) []Claim {
	var out []Claim
	for _, c := range s.InferredClaims {
		if c.SubjectLocalID == localID || c.ObjectLocalID == localID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Text < out[j].Text })
	return out
}
