// Package engine defines the boundary to the external document execution
// engine. The engine runs a resolved notebook's cells against a kernel; the
// orchestrator only observes progress events and the final outcome.
package engine

import "context"

// Event reports completion of one cell during a run.
type Event struct {
	Cell  int    `json:"cell"`
	Total int    `json:"total,omitempty"`
	Error string `json:"error,omitempty"`
}

// RunSpec describes one engine invocation. Kernel travels with the request so
// the engine environment is never ambient process state.
type RunSpec struct {
	InputPath  string         `json:"input_path"`
	OutputPath string         `json:"output_path"`
	Kernel     string         `json:"kernel,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Engine executes a resolved notebook. Execute blocks until the run finishes,
// delivering cell events on events as they happen. The channel is owned by
// the caller and is not closed by the engine.
type Engine interface {
	Execute(ctx context.Context, spec RunSpec, events chan<- Event) error
}
