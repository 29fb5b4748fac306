package registry

// EventKind discriminates the events Registry publishes to internal/eventbus.
type EventKind string

const (
	EventAdded         EventKind = "registry.added"
	EventUpdated       EventKind = "registry.updated"
	EventIDChanged     EventKind = "registry.id_changed"
	EventIPChanged     EventKind = "registry.ip_changed"
	EventOnlineChanged EventKind = "registry.online_changed"
	EventStatusChanged EventKind = "registry.status_changed"
	EventRemoved       EventKind = "registry.removed"
)

// Event is published on the shared bus whenever a Record changes (spec
// §4.1's peer_added/peer_updated/id_changed/ip_changed, generalized to every
// registry mutation so the API and metrics layers can react without polling).
type Event struct {
	Kind        EventKind
	ModuleID    string
	OldModuleID string // set only for EventIDChanged
	Record      Record
}
