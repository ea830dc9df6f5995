// Package deltasync implements reconnection resynchronization: tracking the
// highest-seen sequence number per entity category, and deciding on reconnect
// between an incremental ("delta") catch-up and a full resync.
package deltasync

// EntityType is a category of server entities subject to sequence tracking.
type EntityType string

const (
	EntitySessions  EntityType = "sessions"
	EntityMachines  EntityType = "machines"
	EntityArtifacts EntityType = "artifacts"
)

// SeqMap holds the highest sequence number seen per entity category. The zero
// value (or a missing key) means nothing has been seen.
type SeqMap map[EntityType]int64

// updateEntityTypes maps wire update types to their tracked entity category.
// Types absent from the map (ephemeral notifications such as usage or typing
// reports) are not sequence-tracked.
var updateEntityTypes = map[string]EntityType{
	"new-session":      EntitySessions,
	"update-session":   EntitySessions,
	"delete-session":   EntitySessions,
	"new-message":      EntitySessions,
	"new-machine":      EntityMachines,
	"update-machine":   EntityMachines,
	"machine-activity": EntityMachines,
	"new-artifact":     EntityArtifacts,
	"update-artifact":  EntityArtifacts,
	"delete-artifact":  EntityArtifacts,
}

// EntityTypeFromUpdate maps a wire update type to its tracked entity
// category. The second return is false for update types that are not subject
// to sequence tracking.
func EntityTypeFromUpdate(updateType string) (EntityType, bool) {
	et, ok := updateEntityTypes[updateType]
	return et, ok
}

// TrackSeq records seq for the given entity category if it is strictly
// greater than the currently tracked value, and reports whether an update
// occurred. Tracked values never move backwards.
func TrackSeq(m SeqMap, et EntityType, seq int64) bool {
	if seq <= m[et] {
		return false
	}
	m[et] = seq
	return true
}

// LastKnownSeq returns the tracked sequence number for the category, or 0 if
// none has been recorded.
func LastKnownSeq(m SeqMap, et EntityType) int64 {
	return m[et]
}
