// Package manager loads named governance policies and keeps the active set
// current.
//
// # Core Components
//
// Manager holds the active Snapshot behind an atomic pointer. Readers call
// Snapshot (or Get) once per request and keep using that snapshot, so a
// concurrent reload never exposes a half-updated policy set.
//
// Loader reads a single YAML file or a directory of *.yaml/*.yml files and
// validates every policy, reporting all problems at once.
//
// Watch monitors the policy path with fsnotify and triggers Reload
// after a debounce interval.
//
// # Reload Semantics
//
// A reload builds and validates a complete new snapshot before swapping it
// in. If anything fails, the previous snapshot stays active and the error
// is logged and returned. Reload failures are never fatal.
//
// # Basic Usage
//
//	mgr, err := manager.New(manager.Config{Path: "policies/", DefaultPolicy: "default"}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go mgr.Watch(ctx)
//
//	p := mgr.Get(r.Header.Get("X-Warden-Policy"))
package manager
