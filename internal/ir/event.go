package ir

// EventKind names the kind of state change an audit event records.
type EventKind string

const (
	EventEngineInitialized EventKind = "engine.initialized"
	EventAccountFunded     EventKind = "account.funded"
	EventStreamCreated     EventKind = "stream.created"
	EventStreamClaimed     EventKind = "stream.claimed"
	EventStreamCancelled   EventKind = "stream.cancelled"
	EventIdentityRebound   EventKind = "identity.rebound"
)

// Event is an append-only audit record written in the same transaction as
// the state change it describes.
type Event struct {
	Seq      int64             `json:"seq"` // assigned by the store on append
	ID       string            `json:"id"`  // content-addressed, see EventID
	Kind     EventKind         `json:"kind"`
	StreamID int64             `json:"stream_id"` // 0 for events not tied to a stream
	At       int64             `json:"at"`        // unix seconds
	Attrs    map[string]string `json:"attrs"`
}

// Attr returns the attribute value for key, or "".
func (e Event) Attr(key string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[key]
}
