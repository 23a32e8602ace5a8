// Package activities hosts the Temporal activity surface: one long-running
// coordinating-agent activity plus the tool executor it dispatches to.
package activities

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/graphweave/researcher/internal/checkpoint"
	"github.com/graphweave/researcher/internal/graph"
	"github.com/graphweave/researcher/internal/llm"
	"github.com/graphweave/researcher/internal/progress"
	"github.com/graphweave/researcher/internal/sandbox"
	"github.com/graphweave/researcher/internal/webpage"
	"github.com/graphweave/researcher/internal/websearch"
)

// HumanInputFunc answers the model's questions for a run. Deployments without
// a human channel leave it nil and the tool reports itself unavailable.
type HumanInputFunc func(ctx context.Context, runID string, questions []string) (string, error)

// ResearchDefaults are worker-level run settings. MaxIterations fills in when
// the workflow input leaves it zero; HumanInLoop and InternetAccess gate what
// a task may request — a task only gets a capability when both the input and
// the worker allow it.
type ResearchDefaults struct {
	MaxIterations  int
	HumanInLoop    bool
	InternetAccess bool
}

// Deps carries every external collaborator the activities need.
// Set once during worker initialization.
type Deps struct {
	Provider    llm.Provider
	Search      *websearch.Client
	Pages       *webpage.Fetcher
	Graph       graph.EntityCreator
	Sandbox     *sandbox.Client
	Progress    *progress.Store
	Checkpoints *checkpoint.Bridge
	HumanInput  HumanInputFunc
	Research    ResearchDefaults
	Logger      *zap.Logger
}

var (
	globalDeps  Deps
	depsMutex   sync.RWMutex
	depsSetOnce bool
)

// SetDeps installs the activity dependencies. Call once from main before the
// worker starts.
func SetDeps(d Deps) {
	depsMutex.Lock()
	defer depsMutex.Unlock()
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	globalDeps = d
	depsSetOnce = true
}

func getDeps() (Deps, bool) {
	depsMutex.RLock()
	defer depsMutex.RUnlock()
	return globalDeps, depsSetOnce
}
