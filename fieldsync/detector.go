package fieldsync

import (
	"bytes"
	"sort"
)

type Classification int

const (
	ClassificationNew Classification = iota
	ClassificationDuplicateNoop
	ClassificationCleanUpdate
	ClassificationConflict
)

func (c Classification) String() string {
	switch c {
	case ClassificationNew:
		return "new"
	case ClassificationDuplicateNoop:
		return "duplicate-noop"
	case ClassificationCleanUpdate:
		return "clean-update"
	case ClassificationConflict:
		return "conflict"
	}
	return "unknown"
}

// Detect classifies an incoming revision against the server's current copy.
// current == nil means no server record exists yet. incomingPayload must be
// canonical so payload equality is byte comparison.
func Detect(current *ServerRecord, rev *RecordRevision, incomingPayload []byte) Classification {
	if current == nil {
		return ClassificationNew
	}
	if rev.BaseServerVersion == current.Version {
		return ClassificationCleanUpdate
	}
	// The server moved past what this device last acknowledged. A byte-equal
	// payload is a retry of an already-applied revision.
	if bytes.Equal(incomingPayload, current.Payload) {
		return ClassificationDuplicateNoop
	}
	return ClassificationConflict
}

// FlattenAndSort expands BATCH containers into their children and orders the
// batch deterministically: stable sort by (localId, localVersion) so records
// targeting the same server id are processed in ascending localVersion order
// regardless of network arrival order.
func FlattenAndSort(records []RecordRevision) []RecordRevision {
	flat := make([]RecordRevision, 0, len(records))
	for _, r := range records {
		if len(r.Children) > 0 {
			children := FlattenAndSort(r.Children)
			flat = append(flat, children...)
			continue
		}
		flat = append(flat, r)
	}
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].LocalId != flat[j].LocalId {
			return flat[i].LocalId < flat[j].LocalId
		}
		return flat[i].LocalVersion < flat[j].LocalVersion
	})
	return flat
}
