package repository

import (
	"context"
	"math"

	"github.com/treeverse/termstore/pkg/store"
)

// scanCounters derives every counter from the persisted tables.
func scanCounters(ctx context.Context, tx store.Tx, withObjects bool) (Counters, error) {
	var (
		c   Counters
		err error
	)
	if withObjects {
		c.Objects.LastObjectID, err = tx.MaxObjectSeq(ctx)
		if err != nil {
			return c, err
		}
		minLocal, found, err := tx.MinLocalObjectSeq(ctx, c.Objects.LastObjectID)
		if err != nil {
			return c, err
		}
		c.Objects.NextLocalObjectID = math.MaxInt64
		if found {
			c.Objects.NextLocalObjectID = minLocal - 1
		}
	}
	if c.Branches.LastBranchID, err = tx.MaxBranchID(ctx); err != nil {
		return c, err
	}
	if c.Branches.LastLocalBranchID, err = tx.MinBranchID(ctx); err != nil {
		return c, err
	}
	if c.LastCommitTime, err = tx.MaxCommitTime(ctx, false); err != nil {
		return c, err
	}
	if c.LastNonLocalCommitTime, err = tx.MaxCommitTime(ctx, true); err != nil {
		return c, err
	}
	return c, nil
}

// Recover re-derives all counters by scanning the store, as done on activation after an
// unclean shutdown.
func (s *Store) Recover(ctx context.Context) (Counters, error) {
	var c Counters
	err := s.pools.Read(ctx, func(tx store.Tx) error {
		var err error
		c, err = scanCounters(ctx, tx, s.storesIDs())
		return err
	})
	if err != nil {
		return c, err
	}
	s.setCounters(c)
	s.logger.WithContext(ctx).WithFields(c.fields()).Info("Counters recovered from store contents")
	return c, nil
}
