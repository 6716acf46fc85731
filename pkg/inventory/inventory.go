// Package inventory defines the source of raw configuration snapshots. A
// Source enumerates object names for an account and fetches one object's
// nested configuration document. Sources must be idempotent and
// side-effect-free; retries are the caller's concern.
package inventory

import "context"

// Source is the per-technology inventory collaborator.
type Source interface {
	// List enumerates the names of every object in the account. A List
	// failure is fatal for the run: without the universe of names, nothing
	// downstream can classify deletions safely.
	List(ctx context.Context, account string) ([]string, error)

	// Get fetches the full configuration document for one object. A Get
	// failure skips only that object for the current run.
	Get(ctx context.Context, account, name string) (map[string]any, error)
}

// Regioned is implemented by sources that know which region an object
// lives in; the watcher records it on the item when available.
type Regioned interface {
	Region(name string) string
}
