package fieldsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var resolverBase = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func TestLatestWinsNewerDeviceEditWins(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(5 * time.Minute)}
	incoming := json.RawMessage(`{"weightKg":"120"}`)

	res := Resolve(models.ConflictResolutionLatestWins, rev, incoming, server)
	assert.Equal(t, OutcomeApplyLocal, res.Outcome)
	assert.JSONEq(t, `{"weightKg":"120"}`, string(res.Payload))
}

func TestLatestWinsOlderDeviceEditKeepsServer(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(-5 * time.Minute)}

	res := Resolve(models.ConflictResolutionLatestWins, rev, json.RawMessage(`{"weightKg":"120"}`), server)
	assert.Equal(t, OutcomeKeepServer, res.Outcome)
}

func TestLatestWinsTimestampTieKeepsServer(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase}

	res := Resolve(models.ConflictResolutionLatestWins, rev, json.RawMessage(`{"weightKg":"120"}`), server)
	assert.Equal(t, OutcomeKeepServer, res.Outcome)
}

func TestLocalWinsAlwaysApplies(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(-time.Hour)}
	incoming := json.RawMessage(`{"weightKg":"120"}`)

	res := Resolve(models.ConflictResolutionLocalWins, rev, incoming, server)
	assert.Equal(t, OutcomeApplyLocal, res.Outcome)
	assert.JSONEq(t, `{"weightKg":"120"}`, string(res.Payload))
}

func TestRemoteWinsKeepsServer(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(time.Hour)}

	res := Resolve(models.ConflictResolutionRemoteWins, rev, json.RawMessage(`{"weightKg":"120"}`), server)
	assert.Equal(t, OutcomeKeepServer, res.Outcome)
}

func TestManualHolds(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(time.Hour)}

	res := Resolve(models.ConflictResolutionManual, rev, json.RawMessage(`{"weightKg":"120"}`), server)
	assert.Equal(t, OutcomeManualHold, res.Outcome)
}

func TestMergeAppliesDeclaredFieldsOverServerCopy(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100","notes":"checked at gate","bunchCount":40}`, resolverBase)
	rev := &RecordRevision{
		LocalId:       "loc-1",
		LastUpdated:   resolverBase.Add(10 * time.Minute),
		ChangedFields: []string{"weightKg"},
	}
	incoming := json.RawMessage(`{"weightKg":"120","notes":"","bunchCount":0}`)

	res := Resolve(models.ConflictResolutionMerge, rev, incoming, server)
	require.Equal(t, OutcomeApplyLocal, res.Outcome)

	var merged map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(res.Payload, &merged))
	assert.JSONEq(t, `"120"`, string(merged["weightKg"]))
	// Undeclared fields keep the server's values.
	assert.JSONEq(t, `"checked at gate"`, string(merged["notes"]))
	assert.JSONEq(t, `40`, string(merged["bunchCount"]))
}

func TestMergeOlderRevisionKeepsServer(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{
		LocalId:       "loc-1",
		LastUpdated:   resolverBase.Add(-10 * time.Minute),
		ChangedFields: []string{"weightKg"},
	}

	res := Resolve(models.ConflictResolutionMerge, rev, json.RawMessage(`{"weightKg":"120"}`), server)
	assert.Equal(t, OutcomeKeepServer, res.Outcome)
}

func TestMergeWithoutChangedFieldsDegradesToLatestWins(t *testing.T) {
	server := serverRecordAt(2, `{"weightKg":"100"}`, resolverBase)
	rev := &RecordRevision{LocalId: "loc-1", LastUpdated: resolverBase.Add(time.Minute)}
	incoming := json.RawMessage(`{"weightKg":"120"}`)

	res := Resolve(models.ConflictResolutionMerge, rev, incoming, server)
	assert.Equal(t, OutcomeApplyLocal, res.Outcome)
	assert.JSONEq(t, `{"weightKg":"120"}`, string(res.Payload))
}
