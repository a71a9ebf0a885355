package fieldsync

import (
	"encoding/json"

	"github.com/agrinova/fieldops-backend/models"
)

type Outcome int

const (
	// OutcomeApplyLocal persists the resolved payload and advances the
	// version.
	OutcomeApplyLocal Outcome = iota
	// OutcomeKeepServer discards the incoming revision; the item is reported
	// success=true, hasConflict=true with the server payload attached, and
	// the version does not move.
	OutcomeKeepServer
	// OutcomeManualHold parks both sides in the conflict table; nothing is
	// applied and the version does not move.
	OutcomeManualHold
)

type Resolution struct {
	Outcome Outcome
	// Payload to persist when Outcome == OutcomeApplyLocal.
	Payload json.RawMessage
}

// Resolve applies one strategy to a detected conflict. It is a pure function
// of (strategy, incoming revision, server record): determinism here is what
// makes conflict outcomes reproducible in tests and across retries.
func Resolve(strategy models.ConflictResolution, rev *RecordRevision, incomingPayload json.RawMessage, server *ServerRecord) Resolution {
	switch strategy {
	case models.ConflictResolutionLocalWins:
		return Resolution{Outcome: OutcomeApplyLocal, Payload: incomingPayload}

	case models.ConflictResolutionRemoteWins:
		return Resolution{Outcome: OutcomeKeepServer}

	case models.ConflictResolutionManual:
		return Resolution{Outcome: OutcomeManualHold}

	case models.ConflictResolutionMerge:
		return resolveMerge(rev, incomingPayload, server)

	case models.ConflictResolutionLatestWins:
		fallthrough
	default:
		return resolveLatestWins(rev, incomingPayload, server)
	}
}

// resolveLatestWins compares device edit timestamps. A strictly greater
// incoming timestamp wins; an exact tie keeps the server copy so the outcome
// stays deterministic.
func resolveLatestWins(rev *RecordRevision, incomingPayload json.RawMessage, server *ServerRecord) Resolution {
	if rev.LastUpdated.After(server.LastUpdated) {
		return Resolution{Outcome: OutcomeApplyLocal, Payload: incomingPayload}
	}
	return Resolution{Outcome: OutcomeKeepServer}
}

// resolveMerge combines field-level changes. The device declares which fields
// it changed; those are laid over the server payload. Without a changed-field
// set there is nothing safe to merge and the whole record degrades to
// LATEST_WINS. Overlap resolution is per field: a changed field keeps the
// later writer's value, which collapses to "apply the declared set" when the
// incoming revision is newer and to the server copy otherwise.
func resolveMerge(rev *RecordRevision, incomingPayload json.RawMessage, server *ServerRecord) Resolution {
	if len(rev.ChangedFields) == 0 {
		return resolveLatestWins(rev, incomingPayload, server)
	}
	if !rev.LastUpdated.After(server.LastUpdated) {
		return Resolution{Outcome: OutcomeKeepServer}
	}

	var serverFields, incomingFields map[string]json.RawMessage
	if err := json.Unmarshal(server.Payload, &serverFields); err != nil {
		return resolveLatestWins(rev, incomingPayload, server)
	}
	if err := json.Unmarshal(incomingPayload, &incomingFields); err != nil {
		return resolveLatestWins(rev, incomingPayload, server)
	}

	merged := make(map[string]json.RawMessage, len(serverFields))
	for k, v := range serverFields {
		merged[k] = v
	}
	for _, field := range rev.ChangedFields {
		v, ok := incomingFields[field]
		if !ok {
			// Declared set does not match the payload; fall back to the
			// whole-record rule rather than guess.
			return resolveLatestWins(rev, incomingPayload, server)
		}
		merged[field] = v
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return resolveLatestWins(rev, incomingPayload, server)
	}
	return Resolution{Outcome: OutcomeApplyLocal, Payload: out}
}
