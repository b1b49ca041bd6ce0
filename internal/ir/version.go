package ir

// Version constants for the persisted schema and engine.
const (
	// SchemaVersion is the version of the event attribute layout.
	SchemaVersion = "1"

	// EngineVersion is the streampay engine version.
	EngineVersion = "0.1.0"
)
