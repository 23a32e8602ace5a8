package tools

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Options selects which tools a given invocation context receives.
type Options struct {
	// SubTask restricts the palette for sub-task agents: no delegation, no
	// submission, no human input.
	SubTask bool
	// HumanInLoop enables requestHumanInput.
	HumanInLoop bool
	// InternetAccess enables webSearch. Resource-specific tools stay
	// available because resources may come from caller-supplied URLs.
	InternetAccess bool
	// AllowComplete is false until at least one entity has been submitted.
	AllowComplete bool
	// Omit removes further tools by name for special contexts.
	Omit []Name
}

// Definitions returns the tool palette for an invocation context. Tool names
// are unique by construction (map keyed by name).
func Definitions(opts Options) map[Name]Definition {
	defs := definitions()

	// The dedup palette is requested explicitly via DedupDefinitions.
	delete(defs, ReportDuplicates)

	if !opts.AllowComplete {
		delete(defs, Complete)
	}
	if !opts.InternetAccess {
		delete(defs, WebSearch)
	}
	if !opts.HumanInLoop || opts.SubTask {
		delete(defs, RequestHumanInput)
	}
	if opts.SubTask {
		delete(defs, StartClaimGatheringSubTasks)
		delete(defs, SubmitProposedEntities)
	}
	for _, n := range opts.Omit {
		delete(defs, n)
	}
	return defs
}

// Known reports whether a name belongs to the global tool set at all,
// regardless of what any invocation context offers. The coordinator treats
// unknown names as fatal and merely-unoffered names as soft errors.
func Known(name Name) bool {
	_, ok := definitions()[name]
	return ok
}

// DedupDefinitions returns the single-tool palette for the deduplication
// agent.
func DedupDefinitions() map[Name]Definition {
	all := definitions()
	return map[Name]Definition{ReportDuplicates: all[ReportDuplicates]}
}

// Sorted renders a definition map as a deterministic slice for prompt
// assembly and provider requests.
func Sorted(defs map[Name]Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var (
	schemaOnce sync.Once
	schemas    map[Name]*gojsonschema.Schema
	schemaErr  error
)

func compiledSchemas() (map[Name]*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schemas = make(map[Name]*gojsonschema.Schema)
		for name, def := range definitions() {
			s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
			if err != nil {
				schemaErr = fmt.Errorf("compile schema for %s: %w", name, err)
				return
			}
			schemas[name] = s
		}
	})
	return schemas, schemaErr
}

// ValidateArgs checks raw tool arguments against the tool's input schema.
// An unknown tool name is an error, never silently ignored.
func ValidateArgs(name Name, raw []byte) error {
	compiled, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := compiled[name]
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid arguments for %s: %s", name, strings.Join(msgs, "; "))
	}
	return nil
}
