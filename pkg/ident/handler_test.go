package ident_test

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/treeverse/termstore/pkg/ident"
)

type branch bool

func (b branch) IsLocal() bool { return bool(b) }

const (
	durable = branch(false)
	local   = branch(true)
)

func TestNextID_LongStrategy(t *testing.T) {
	h, err := ident.NewHandler(ident.StrategyLong)
	require.NoError(t, err)

	var prev int64
	for i := 0; i < 100; i++ {
		id, err := h.NextID(durable)
		require.NoError(t, err)
		require.Equal(t, ident.KindLong, id.Kind())
		seq, _ := id.Seq()
		require.Greater(t, seq, prev)
		require.False(t, h.IsLocal(id))
		prev = seq
	}

	localID, err := h.NextID(local)
	require.NoError(t, err)
	seq, _ := localID.Seq()
	require.Equal(t, int64(math.MaxInt64), seq)
	require.True(t, h.IsLocal(localID))

	next, err := h.NextID(local)
	require.NoError(t, err)
	nextSeq, _ := next.Seq()
	require.Equal(t, seq-1, nextSeq)

	require.Equal(t, ident.Counters{LastObjectID: 100, NextLocalObjectID: math.MaxInt64 - 2}, h.Counters())
}

func TestNextID_NoCollisionAcrossSpaces(t *testing.T) {
	h, err := ident.NewHandler(ident.StrategyLong)
	require.NoError(t, err)
	h.SetCounters(ident.Counters{LastObjectID: 10, NextLocalObjectID: 13})

	seen := map[ident.ObjectID]bool{}
	for _, b := range []branch{durable, local, durable, local} {
		id, err := h.NextID(b)
		if err != nil {
			require.ErrorIs(t, err, ident.ErrExhausted)
			break
		}
		require.False(t, seen[id], "id %s allocated twice", id)
		seen[id] = true
	}
	_, err = h.NextID(durable)
	require.ErrorIs(t, err, ident.ErrExhausted)
}

func TestAdjustLastObjectID(t *testing.T) {
	h, err := ident.NewHandler(ident.StrategyLong)
	require.NoError(t, err)

	h.AdjustLastObjectID(ident.Long(42))
	require.EqualValues(t, 42, h.Counters().LastObjectID)

	// smaller, external and local ids never move the counter
	h.AdjustLastObjectID(ident.Long(7))
	h.AdjustLastObjectID(ident.Long(-3))
	h.AdjustLastObjectID(ident.Long(math.MaxInt64))
	require.EqualValues(t, 42, h.Counters().LastObjectID)

	id, err := h.NextID(durable)
	require.NoError(t, err)
	require.Equal(t, ident.Long(43), id)
}

func TestCreateID(t *testing.T) {
	tests := []struct {
		name     string
		strategy ident.Strategy
		repr     string
		want     ident.ObjectID
		wantErr  error
	}{
		{name: "long", strategy: ident.StrategyLong, repr: "17", want: ident.Long(17)},
		{name: "long negative", strategy: ident.StrategyLong, repr: "-4", want: ident.Long(-4)},
		{name: "long external", strategy: ident.StrategyLong, repr: "urn:x:1", want: ident.External("urn:x:1")},
		{name: "long invalid", strategy: ident.StrategyLong, repr: "12ab", wantErr: ident.ErrInvalidID},
		{name: "string", strategy: ident.StrategyString, repr: "900", want: ident.String(900)},
		{name: "string external", strategy: ident.StrategyString, repr: "http://snomed.info/id/1", want: ident.External("http://snomed.info/id/1")},
		{name: "null", strategy: ident.StrategyString, repr: "", want: ident.Null},
		{name: "uuid", strategy: ident.StrategyUUID, repr: "6ba7b810-9dad-11d1-80b4-00c04fd430c8", want: ident.UUID(uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8"))},
		{name: "uuid external", strategy: ident.StrategyUUID, repr: "urn:x:2", want: ident.External("urn:x:2")},
		{name: "uuid invalid", strategy: ident.StrategyUUID, repr: "not-a-uuid", wantErr: ident.ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ident.NewHandler(tt.strategy)
			require.NoError(t, err)
			got, err := h.CreateID(tt.repr)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.repr, got.String())
		})
	}
}

func TestCompare(t *testing.T) {
	long, _ := ident.NewHandler(ident.StrategyLong)
	c, err := long.Compare(ident.Long(3), ident.Long(5))
	require.NoError(t, err)
	require.Equal(t, -1, c)
	c, err = long.Compare(ident.Long(5), ident.Long(5))
	require.NoError(t, err)
	require.Equal(t, 0, c)
	c, err = long.Compare(ident.Null, ident.Long(-1))
	require.NoError(t, err)
	require.Equal(t, -1, c)
	_, err = long.Compare(ident.External("urn:a"), ident.Long(1))
	require.ErrorIs(t, err, ident.ErrUnordered)
	_, err = long.Compare(ident.String(1), ident.Long(1))
	require.ErrorIs(t, err, ident.ErrIncomparable)

	uuids, _ := ident.NewHandler(ident.StrategyUUID)
	_, err = uuids.Compare(ident.UUID(uuid.New()), ident.UUID(uuid.New()))
	require.ErrorIs(t, err, ident.ErrUnordered)
}

func TestUUIDStrategy_NextIDUnsupported(t *testing.T) {
	h, err := ident.NewHandler(ident.StrategyUUID)
	require.NoError(t, err)
	_, err = h.NextID(durable)
	require.ErrorIs(t, err, ident.ErrUnsupported)
	require.False(t, h.IsLocal(ident.UUID(uuid.New())))
}

func TestParseStrategy(t *testing.T) {
	s, err := ident.ParseStrategy("UUID")
	require.NoError(t, err)
	require.Equal(t, ident.StrategyUUID, s)
	_, err = ident.ParseStrategy("snowflake")
	require.ErrorIs(t, err, ident.ErrUnsupported)
}

func TestIsExternal(t *testing.T) {
	require.True(t, ident.External("urn:x").IsExternal())
	require.True(t, ident.Long(-1).IsExternal())
	require.False(t, ident.Long(1).IsExternal())
	require.False(t, ident.Null.IsExternal())
}
