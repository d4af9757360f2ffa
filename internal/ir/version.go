package ir

// Version constants for snapshots and the engine.
const (
	// SnapshotVersion is the version of the Snapshot JSON layout.
	SnapshotVersion = "1"

	// EngineVersion is the tandem engine version.
	EngineVersion = "0.1.0"
)
