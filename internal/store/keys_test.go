package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canon/internal/ir"
)

func TestBind_CreateNewReference(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBinding("ref-1", true, "rec-1", key("device.serial", "SN-1"), key("device.asset", "A-1"))
	b.BusinessKey = "SN-1"
	b.Fields = []ir.FieldUpdate{{Path: "name", Value: ir.String("router")}}

	res, err := s.Bind(ctx, b)
	require.NoError(t, err)
	assert.True(t, res.Committed())
	assert.True(t, res.Created)
	assert.Equal(t, int64(1), res.Version)

	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "device", ref.Model)
	assert.Equal(t, "SN-1", ref.BusinessKey)
	assert.Equal(t, int64(1), ref.Version)
	assert.True(t, ref.RequiresProjection)
	assert.Equal(t, at(1), ref.CreatedAt)

	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{key("device.serial", "SN-1"), key("device.asset", "A-1"), key("device.asset", "nope")})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "ref-1", entries[key("device.serial", "SN-1")].ReferenceID)
	assert.Equal(t, "SN-1", entries[key("device.serial", "SN-1")].BusinessKey)
	assert.Equal(t, "rec-1", entries[key("device.asset", "A-1")].BoundBy)
}

func TestBind_ExistingReferenceBindsNewKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Bind(ctx, createTestBinding("ref-1", true, "rec-a", key("device.serial", "K1")))
	require.NoError(t, err)

	res, err := s.Bind(ctx, createTestBinding("ref-1", false, "rec-b", key("device.serial", "K1"), key("device.serial", "K2")))
	require.NoError(t, err)
	assert.True(t, res.Committed())
	assert.False(t, res.Created)
	assert.Equal(t, int64(2), res.Version)

	keys, err := s.KeysForReference(ctx, "ref-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "K1", keys[0].Key.Value)
	assert.Equal(t, "K2", keys[1].Key.Value)
	assert.Equal(t, "rec-b", keys[1].BoundBy)
}

func TestBind_LostRaceRollsBack(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Winner claims K1 first.
	_, err := s.Bind(ctx, createTestBinding("ref-winner", true, "rec-1", key("device.serial", "K1")))
	require.NoError(t, err)

	// Loser saw K1 unclaimed and tries to create its own reference with K0 and K1.
	res, err := s.Bind(ctx, createTestBinding("ref-loser", true, "rec-2", key("device.serial", "K0"), key("device.serial", "K1")))
	require.NoError(t, err)
	assert.False(t, res.Committed())
	assert.False(t, res.Created)
	assert.Equal(t, map[ir.AggregationKey]string{key("device.serial", "K1"): "ref-winner"}, res.Conflicts)

	// Nothing from the losing attempt persisted.
	_, err = s.GetReference(ctx, "ref-loser")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{key("device.serial", "K0")})
	require.NoError(t, err)
	assert.Empty(t, entries, "K0 claim must roll back with the conflict")
}

func TestBind_ConflictLeavesExistingVersion(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Bind(ctx, createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1")))
	require.NoError(t, err)
	_, err = s.Bind(ctx, createTestBinding("ref-2", true, "rec-2", key("device.serial", "K2")))
	require.NoError(t, err)

	b := createTestBinding("ref-1", false, "rec-3", key("device.serial", "K1"), key("device.serial", "K2"))
	b.Fields = []ir.FieldUpdate{{Path: "name", Value: ir.String("x")}}
	res, err := s.Bind(ctx, b)
	require.NoError(t, err)
	assert.False(t, res.Committed())

	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.Version)

	history, err := s.ReadHistory(ctx, "ref-1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBind_RecordBoundOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1"))
	b.Fields = []ir.FieldUpdate{{Path: "name", Value: ir.String("router")}}
	first, err := s.Bind(ctx, b)
	require.NoError(t, err)
	assert.False(t, first.AlreadyBound)

	// Redelivery after a lease expiry resolves to the same reference.
	b.Create = false
	again, err := s.Bind(ctx, b)
	require.NoError(t, err)
	assert.True(t, again.Committed())
	assert.True(t, again.AlreadyBound)
	assert.Equal(t, "ref-1", again.ReferenceID)
	assert.Equal(t, int64(1), again.Version)

	// A redelivery that minted a fresh id gets the first binding back.
	b = createTestBinding("ref-2", true, "rec-1", key("device.serial", "K2"))
	b.Fields = []ir.FieldUpdate{{Path: "name", Value: ir.String("router")}}
	minted, err := s.Bind(ctx, b)
	require.NoError(t, err)
	assert.True(t, minted.AlreadyBound)
	assert.False(t, minted.Created)
	assert.Equal(t, "ref-1", minted.ReferenceID)

	_, err = s.GetReference(ctx, "ref-2")
	assert.ErrorIs(t, err, ErrNotFound)
	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{key("device.serial", "K2")})
	require.NoError(t, err)
	assert.Empty(t, entries)

	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.Version)

	history, err := s.ReadHistory(ctx, "ref-1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestBind_LostRaceReleasesRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Bind(ctx, createTestBinding("ref-winner", true, "rec-1", key("device.serial", "K1")))
	require.NoError(t, err)

	res, err := s.Bind(ctx, createTestBinding("ref-loser", true, "rec-2", key("device.serial", "K1")))
	require.NoError(t, err)
	require.False(t, res.Committed())

	_, _, found, err := s.AcceptedRecord(ctx, "rec-2")
	require.NoError(t, err)
	assert.False(t, found, "a rolled back bind must not mark the record accepted")
}

func TestBind_UnknownReference(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Bind(context.Background(), createTestBinding("ghost", false, "rec-1", key("device.serial", "K1")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBind_BusinessKeyAssignedOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1"))
	b.BusinessKey = "BK-1"
	_, err := s.Bind(ctx, b)
	require.NoError(t, err)

	b = createTestBinding("ref-1", false, "rec-2", key("device.serial", "K1"))
	b.BusinessKey = "BK-2"
	_, err = s.Bind(ctx, b)
	require.NoError(t, err)

	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, "BK-1", ref.BusinessKey, "business key is stable once assigned")
}

func TestBind_BusinessKeyNotStolen(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1"))
	b.BusinessKey = "BK"
	_, err := s.Bind(ctx, b)
	require.NoError(t, err)

	b = createTestBinding("ref-2", true, "rec-2", key("device.serial", "K2"))
	b.BusinessKey = "BK"
	res, err := s.Bind(ctx, b)
	require.NoError(t, err, "a business key clash must not fail the bind")
	assert.True(t, res.Committed())

	ref, err := s.GetReference(ctx, "ref-2")
	require.NoError(t, err)
	assert.Empty(t, ref.BusinessKey)
}

func TestReadHistory_OrderAndVersionBound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, v := range []int64{10, 20, 15} {
		b := createTestBinding("ref-1", i == 0, "rec", key("device.serial", "K1"))
		b.RecordID = []string{"rec-a", "rec-b", "rec-c"}[i]
		b.Fields = []ir.FieldUpdate{{Path: "reading", Value: ir.Int(v)}}
		_, err := s.Bind(ctx, b)
		require.NoError(t, err)
	}

	history, err := s.ReadHistory(ctx, "ref-1", 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, ir.Int(10), history[0].Value)
	assert.Equal(t, ir.Int(15), history[2].Value)
	assert.Less(t, history[0].Seq, history[1].Seq)
	assert.Equal(t, int64(3), history[2].Version)
	assert.Equal(t, "rec-c", history[2].RecordID)

	upTo2, err := s.ReadHistory(ctx, "ref-1", 2)
	require.NoError(t, err)
	assert.Len(t, upTo2, 2)
}

func TestClearProjectionFlag_CompareAndClear(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Bind(ctx, createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1")))
	require.NoError(t, err)

	cleared, err := s.ClearProjectionFlag(ctx, "ref-1", 0)
	require.NoError(t, err)
	assert.False(t, cleared, "stale version must not clear the flag")

	cleared, err = s.ClearProjectionFlag(ctx, "ref-1", 1)
	require.NoError(t, err)
	assert.True(t, cleared)

	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.False(t, ref.RequiresProjection)
}

func TestRetire(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Bind(ctx, createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1")))
	require.NoError(t, err)

	require.NoError(t, s.Retire(ctx, "ref-1", at(9)))
	ref, err := s.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.True(t, ref.Retired)

	assert.ErrorIs(t, s.Retire(ctx, "ghost", at(9)), ErrNotFound)
}

func TestAcceptedRecord(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, _, found, err := s.AcceptedRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.False(t, found)

	b := createTestBinding("ref-1", true, "rec-1", key("device.serial", "K1"))
	b.Fields = []ir.FieldUpdate{
		{Path: "name", Value: ir.String("router")},
		{Path: "site", Value: ir.String("ams")},
	}
	_, err = s.Bind(ctx, b)
	require.NoError(t, err)

	b = createTestBinding("ref-1", false, "rec-2", key("device.serial", "K1"))
	b.Fields = []ir.FieldUpdate{{Path: "name", Value: ir.String("switch")}}
	_, err = s.Bind(ctx, b)
	require.NoError(t, err)

	refID, version, found, err := s.AcceptedRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ref-1", refID)
	assert.Equal(t, int64(1), version)

	refID, version, found, err = s.AcceptedRecord(ctx, "rec-2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "ref-1", refID)
	assert.Equal(t, int64(2), version)
}
