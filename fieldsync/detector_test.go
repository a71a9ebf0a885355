package fieldsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func serverRecordAt(version int32, payload string, lastUpdated time.Time) *ServerRecord {
	return &ServerRecord{
		ServerId:    "srv-1",
		Version:     version,
		Payload:     json.RawMessage(payload),
		LastUpdated: lastUpdated,
	}
}

func TestDetectNewRecord(t *testing.T) {
	rev := &RecordRevision{LocalId: "loc-1", BaseServerVersion: 0}
	got := Detect(nil, rev, []byte(`{"a":1}`))
	assert.Equal(t, ClassificationNew, got)
}

func TestDetectCleanUpdate(t *testing.T) {
	current := serverRecordAt(3, `{"a":1}`, time.Now())
	rev := &RecordRevision{LocalId: "loc-1", BaseServerVersion: 3}
	got := Detect(current, rev, []byte(`{"a":2}`))
	assert.Equal(t, ClassificationCleanUpdate, got)
}

func TestDetectDuplicateNoop(t *testing.T) {
	current := serverRecordAt(2, `{"a":1}`, time.Now())
	// Retry of an already-applied revision: stale base but identical bytes.
	rev := &RecordRevision{LocalId: "loc-1", BaseServerVersion: 1}
	got := Detect(current, rev, []byte(`{"a":1}`))
	assert.Equal(t, ClassificationDuplicateNoop, got)
}

func TestDetectConflict(t *testing.T) {
	current := serverRecordAt(2, `{"a":1}`, time.Now())
	rev := &RecordRevision{LocalId: "loc-1", BaseServerVersion: 1}
	got := Detect(current, rev, []byte(`{"a":9}`))
	assert.Equal(t, ClassificationConflict, got)
}

func TestFlattenAndSortExpandsBatchChildren(t *testing.T) {
	records := []RecordRevision{
		{LocalId: "z", LocalVersion: 1},
		{
			LocalId: "container",
			Children: []RecordRevision{
				{LocalId: "a", LocalVersion: 2},
				{LocalId: "a", LocalVersion: 1},
			},
		},
	}
	flat := FlattenAndSort(records)

	assert.Len(t, flat, 3)
	assert.Equal(t, "a", flat[0].LocalId)
	assert.Equal(t, 1, flat[0].LocalVersion)
	assert.Equal(t, "a", flat[1].LocalId)
	assert.Equal(t, 2, flat[1].LocalVersion)
	assert.Equal(t, "z", flat[2].LocalId)
}

func TestFlattenAndSortIsDeterministic(t *testing.T) {
	shuffled := []RecordRevision{
		{LocalId: "b", LocalVersion: 2},
		{LocalId: "a", LocalVersion: 1},
		{LocalId: "b", LocalVersion: 1},
	}
	reversed := []RecordRevision{shuffled[2], shuffled[0], shuffled[1]}

	first := FlattenAndSort(shuffled)
	second := FlattenAndSort(reversed)
	assert.Equal(t, first, second)
}
