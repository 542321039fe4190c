package types

// Event is the generic representation of a state change emitted by the
// subscription engine and its collaborators. Attributes are stringly typed so
// downstream consumers (indexers, metrics, audit logs) can treat every event
// uniformly.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
