package resolve

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/canon/internal/ir"
	"github.com/roach88/canon/internal/store"
	"github.com/roach88/canon/internal/testutil"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "canon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newResolver(index KeyIndex, ids ...string) *Resolver {
	return New(index,
		WithIDGenerator(ir.NewFixedGenerator(ids...)),
		WithClock(testutil.NewStepClock(testutil.Epoch, time.Second)),
	)
}

func key(ns, value string) ir.AggregationKey {
	return ir.AggregationKey{Namespace: ns, Value: value}
}

func input(recordID string, keys ...ir.AggregationKey) Input {
	return Input{
		Record: ir.Record{
			ID:         recordID,
			SourceID:   "src-a",
			Model:      "device",
			OccurredAt: testutil.Epoch,
			Payload:    ir.Object{"serial": ir.String("S1")},
		},
		Keys:   keys,
		Fields: []ir.FieldUpdate{{Path: "serial", Value: ir.String("S1")}},
	}
}

func TestResolve_NoKeys(t *testing.T) {
	r := newResolver(openStore(t))

	_, err := r.Resolve(context.Background(), input("rec-1"))

	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Equal(t, ir.RejectNoKeys, RejectionCode(err))
}

func TestResolve_AllNewKeysCreatesReference(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-A")
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	k2 := key("device.asset_tag", "T9")
	res, err := r.Resolve(ctx, input("rec-1", k1, k2))

	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "ref-A", res.ReferenceID)
	assert.Equal(t, int64(1), res.Version)

	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{k1, k2})
	require.NoError(t, err)
	require.Len(t, entries, 2, "every key must be indexed after creation")
	assert.Equal(t, "ref-A", entries[k1].ReferenceID)
	assert.Equal(t, "ref-A", entries[k2].ReferenceID)
}

func TestResolve_ExistingKeyBindsNewKey(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-A")
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	k2 := key("device.asset_tag", "T9")

	a, err := r.Resolve(ctx, input("rec-A", k1))
	require.NoError(t, err)

	b, err := r.Resolve(ctx, input("rec-B", k1, k2))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, b.Outcome)
	assert.Equal(t, a.ReferenceID, b.ReferenceID)
	assert.Equal(t, int64(2), b.Version)

	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{k2})
	require.NoError(t, err)
	assert.Equal(t, a.ReferenceID, entries[k2].ReferenceID)
	assert.Equal(t, "rec-B", entries[k2].BoundBy)
}

func TestResolve_ConsistentKeysResolve(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-A")
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	k2 := key("device.asset_tag", "T9")
	_, err := r.Resolve(ctx, input("rec-1", k1, k2))
	require.NoError(t, err)

	res, err := r.Resolve(ctx, input("rec-2", k2, k1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, res.Outcome)
	assert.Equal(t, "ref-A", res.ReferenceID)
}

func TestResolve_MultiOwnerCollision(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-B", "ref-A")
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	k2 := key("device.asset_tag", "T9")
	_, err := r.Resolve(ctx, input("rec-1", k1))
	require.NoError(t, err)
	_, err = r.Resolve(ctx, input("rec-2", k2))
	require.NoError(t, err)

	_, err = r.Resolve(ctx, input("rec-3", k1, k2))
	require.Error(t, err)
	assert.Equal(t, ir.RejectMultiOwner, RejectionCode(err))

	var re *RejectionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "rec-3", re.RecordID)
	assert.Equal(t, ir.Array{ir.String("ref-A"), ir.String("ref-B")}, re.Evidence["reference_ids"])
	assert.Equal(t, ir.Object{
		"device.serial=S1":    ir.String("ref-B"),
		"device.asset_tag=T9": ir.String("ref-A"),
	}, re.Evidence["keys"])

	ref, err := s.GetReference(ctx, "ref-A")
	require.NoError(t, err)
	assert.Equal(t, int64(1), ref.Version, "rejected record must not touch either reference")
}

func TestResolve_DuplicateKeysIgnored(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-A")

	k1 := key("device.serial", "S1")
	res, err := r.Resolve(context.Background(), input("rec-1", k1, k1, k1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
}

func TestResolve_BusinessKeyAssignedOnce(t *testing.T) {
	s := openStore(t)
	r := newResolver(s, "ref-A")
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	in := input("rec-1", k1)
	in.BusinessKey = "S1"
	_, err := r.Resolve(ctx, in)
	require.NoError(t, err)

	in = input("rec-2", k1)
	in.BusinessKey = "S1-renamed"
	_, err = r.Resolve(ctx, in)
	require.NoError(t, err)

	ref, err := s.GetReference(ctx, "ref-A")
	require.NoError(t, err)
	assert.Equal(t, "S1", ref.BusinessKey)
}

// staleIndex simulates a lookup that raced with another resolver: it
// reports every key as unclaimed.
type staleIndex struct {
	*store.Store
}

func (staleIndex) LookupKeys(context.Context, []ir.AggregationKey) (map[ir.AggregationKey]ir.KeyIndexEntry, error) {
	return map[ir.AggregationKey]ir.KeyIndexEntry{}, nil
}

func TestResolve_LostRaceIsKeyOwnerMismatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	k1 := key("device.serial", "S1")
	_, err := newResolver(s, "ref-A").Resolve(ctx, input("rec-1", k1))
	require.NoError(t, err)

	_, err = newResolver(staleIndex{s}, "ref-B").Resolve(ctx, input("rec-2", k1, key("device.asset_tag", "T9")))
	require.Error(t, err)
	assert.Equal(t, ir.RejectKeyOwnerMismatch, RejectionCode(err))

	var re *RejectionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ir.String("ref-B"), re.Evidence["reference_id"])
	assert.Equal(t, ir.Object{"device.serial=S1": ir.String("ref-A")}, re.Evidence["conflicts"])

	_, err = s.GetReference(ctx, "ref-B")
	assert.ErrorIs(t, err, store.ErrNotFound, "losing transaction must roll back the minted reference")

	entries, err := s.LookupKeys(ctx, []ir.AggregationKey{key("device.asset_tag", "T9")})
	require.NoError(t, err)
	assert.Empty(t, entries, "losing transaction must not bind its other keys")
}

// barrierIndex holds every lookup until n lookups have happened, so
// concurrent resolvers all observe the key as unclaimed.
type barrierIndex struct {
	*store.Store
	wg *sync.WaitGroup
}

func (b barrierIndex) LookupKeys(ctx context.Context, keys []ir.AggregationKey) (map[ir.AggregationKey]ir.KeyIndexEntry, error) {
	out, err := b.Store.LookupKeys(ctx, keys)
	b.wg.Done()
	b.wg.Wait()
	return out, err
}

func TestResolve_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	const racers = 4
	var barrier sync.WaitGroup
	barrier.Add(racers)
	index := barrierIndex{Store: s, wg: &barrier}

	shared := key("device.serial", "S1")
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := newResolver(index, fmt.Sprintf("ref-%d", i))
			in := input(fmt.Sprintf("rec-%d", i), shared, key("device.asset_tag", fmt.Sprintf("T%d", i)))
			_, errs[i] = r.Resolve(ctx, in)
		}(i)
	}
	wg.Wait()

	wins, mismatches := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case RejectionCode(err) == ir.RejectKeyOwnerMismatch:
			mismatches++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, racers-1, mismatches)
}

func TestResolve_RedeliveredRecordKeepsFirstBinding(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	k1 := key("device.serial", "S1")

	first, err := newResolver(s, "ref-A").Resolve(ctx, input("rec-1", k1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, first.Outcome)

	again, err := newResolver(s, "ref-B").Resolve(ctx, input("rec-1", k1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeResolved, again.Outcome)
	assert.Equal(t, "ref-A", again.ReferenceID)
	assert.Equal(t, int64(1), again.Version)

	history, err := s.ReadHistory(ctx, "ref-A", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestResolve_ConcurrentRedeliveryBindsOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	const racers = 2
	var barrier sync.WaitGroup
	barrier.Add(racers)
	index := barrierIndex{Store: s, wg: &barrier}

	results := make([]Resolution, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := newResolver(index, fmt.Sprintf("ref-%d", i))
			results[i], errs[i] = r.Resolve(ctx, input("rec-1", key("device.serial", "S1")))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, results[0].ReferenceID, results[1].ReferenceID)
	assert.Equal(t, int64(1), results[0].Version)
	assert.Equal(t, int64(1), results[1].Version)

	history, err := s.ReadHistory(ctx, results[0].ReferenceID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type failingIndex struct{}

func (failingIndex) LookupKeys(context.Context, []ir.AggregationKey) (map[ir.AggregationKey]ir.KeyIndexEntry, error) {
	return nil, errors.New("disk I/O error")
}

func (failingIndex) Bind(context.Context, ir.Binding) (ir.BindResult, error) {
	return ir.BindResult{}, errors.New("disk I/O error")
}

func TestResolve_StorageFaultIsNotRejection(t *testing.T) {
	r := newResolver(failingIndex{})

	_, err := r.Resolve(context.Background(), input("rec-1", key("device.serial", "S1")))
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestRejectionHelpers_Wrapped(t *testing.T) {
	err := fmt.Errorf("associate: %w", &RejectionError{Code: ir.RejectMultiOwner, RecordID: "r"})
	assert.True(t, IsRejection(err))
	assert.Equal(t, ir.RejectMultiOwner, RejectionCode(err))
	assert.Equal(t, "MULTI_OWNER_COLLISION: record r rejected", errors.Unwrap(err).Error())

	assert.False(t, IsRejection(errors.New("plain")))
	assert.Equal(t, ir.RejectionCode(""), RejectionCode(errors.New("plain")))
}
