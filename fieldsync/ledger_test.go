package fieldsync

import (
	"context"
	"testing"

	"github.com/agrinova/fieldops-backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerResolveOrCreateIsStable(t *testing.T) {
	db := newTestDB(t)
	ledger := Ledger{}
	ctx := context.Background()

	entry, minted, err := ledger.ResolveOrCreate(ctx, db, models.RecordKindHarvest, testDeviceA, "loc-1")
	require.NoError(t, err)
	assert.True(t, minted)
	assert.NotEmpty(t, entry.ServerId)
	assert.Equal(t, int32(0), entry.ServerVersion)

	again, minted, err := ledger.ResolveOrCreate(ctx, db, models.RecordKindHarvest, testDeviceA, "loc-1")
	require.NoError(t, err)
	assert.False(t, minted)
	assert.Equal(t, entry.ServerId, again.ServerId)

	// Same local id from another device is a different record.
	other, minted, err := ledger.ResolveOrCreate(ctx, db, models.RecordKindHarvest, testDeviceB, "loc-1")
	require.NoError(t, err)
	assert.True(t, minted)
	assert.NotEqual(t, entry.ServerId, other.ServerId)

	// Same key under a different kind is also distinct.
	gate, minted, err := ledger.ResolveOrCreate(ctx, db, models.RecordKindGateLog, testDeviceA, "loc-1")
	require.NoError(t, err)
	assert.True(t, minted)
	assert.NotEqual(t, entry.ServerId, gate.ServerId)
}

func TestLedgerAdvanceIsCompareAndSet(t *testing.T) {
	db := newTestDB(t)
	ledger := Ledger{}
	ctx := context.Background()

	entry, _, err := ledger.ResolveOrCreate(ctx, db, models.RecordKindHarvest, testDeviceA, "loc-1")
	require.NoError(t, err)

	ok, err := ledger.Advance(ctx, db, models.RecordKindHarvest, entry.ServerId, 0, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second writer still holding from=0 loses.
	ok, err = ledger.Advance(ctx, db, models.RecordKindHarvest, entry.ServerId, 0, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	version, found, err := ledger.CurrentVersion(ctx, db, models.RecordKindHarvest, entry.ServerId)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(1), version)
}

func TestLedgerResolveServerIdUnknown(t *testing.T) {
	db := newTestDB(t)
	ledger := Ledger{}

	entry, err := ledger.ResolveServerId(context.Background(), db, models.RecordKindHarvest, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, entry)
}
