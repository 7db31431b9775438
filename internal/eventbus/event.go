// Package eventbus implements the typed message channel from the
// watcher, the HTTP layer, and configuration reload plumbing into the index
// daemon, along with the oneshot reply channel used for queries.
package eventbus

import "github.com/localidx/fileidx/internal/index"

// Kind identifies which variant of the Event tagged union a value holds.
type Kind int

const (
	// KindCreated corresponds to Created(paths): new filesystem entries.
	KindCreated Kind = iota
	// KindUpdated corresponds to Updated(paths): changed filesystem entries.
	KindUpdated
	// KindRemoved corresponds to Removed(paths): deleted filesystem entries.
	KindRemoved
	// KindConfigReloaded corresponds to ConfigReloaded(configPath).
	KindConfigReloaded
	// KindQuery corresponds to Query(paths, replyChannel).
	KindQuery
	// KindTerminate corresponds to Terminate: the daemon's last event.
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindUpdated:
		return "updated"
	case KindRemoved:
		return "removed"
	case KindConfigReloaded:
		return "config-reloaded"
	case KindQuery:
		return "query"
	case KindTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// QueryResult is the outcome for a single requested path: either the record
// that was present, or a marker that it was absent.
type QueryResult struct {
	Path    string
	Present bool
	Record  index.FileRecord
}

// Event is the tagged union pushed through the bus. Only the fields relevant
// to Kind are populated; see the Bus Send* methods, which build each variant.
type Event struct {
	Kind Kind
	// Paths holds the subject paths for Created, Updated, Removed, and
	// Query.
	Paths []string
	// ConfigPath holds the configuration file path for ConfigReloaded.
	ConfigPath string
	// Reply is the oneshot reply channel for Query. It is buffered with
	// capacity 1 so that a send from the daemon never blocks, even if the
	// original receiver has stopped waiting (a timed-out HTTP handler simply
	// stops reading; it never closes the channel, so the daemon's send is a
	// silent, panic-free no-op from the caller's perspective).
	Reply chan<- []QueryResult
}
