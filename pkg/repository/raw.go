package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/treeverse/termstore/pkg/locking"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	rawCounters    = "counters"
	rawBranch      = "branch"
	rawCommit      = "commit"
	rawRevision    = "revision"
	rawExternalRef = "external_ref"
)

var ErrBadRawRecord = errors.New("bad raw record")

// RawRange selects the rows of a raw export: branches with FromBranch <= id <= ToBranch,
// and their commits, revisions and lock areas with times in [FromTime, ToTime].  External
// references mapped in [FromTime, ToTime] are exported whatever branch mapped them.
type RawRange struct {
	FromBranch store.BranchID
	ToBranch   store.BranchID
	FromTime   int64
	ToTime     int64
}

// FullRawRange selects every row.
var FullRawRange = RawRange{
	FromBranch: math.MinInt32,
	ToBranch:   math.MaxInt32,
	FromTime:   math.MinInt64,
	ToTime:     math.MaxInt64,
}

func (r RawRange) hasBranch(id store.BranchID) bool {
	return id >= r.FromBranch && id <= r.ToBranch
}

func (r RawRange) hasTime(t int64) bool {
	return t >= r.FromTime && t <= r.ToTime
}

type rawHeader struct {
	Type string `json:"type"`
}

type rawCountersRecord struct {
	Type                   string         `json:"type"`
	LastObjectID           int64          `json:"last_object_id"`
	NextLocalObjectID      int64          `json:"next_local_object_id"`
	LastBranchID           store.BranchID `json:"last_branch_id"`
	LastLocalBranchID      store.BranchID `json:"last_local_branch_id"`
	LastCommitTime         int64          `json:"last_commit_time"`
	LastNonLocalCommitTime int64          `json:"last_non_local_commit_time"`
}

type rawBranchRecord struct {
	Type string `json:"type"`
	store.Branch
}

type rawCommitRecord struct {
	Type string `json:"type"`
	store.CommitInfo
}

type rawExternalRefRecord struct {
	Type string `json:"type"`
	store.ExternalRef
}

type rawRevisionRecord struct {
	Type      string                 `json:"type"`
	ObjectID  string                 `json:"object_id"`
	BranchID  store.BranchID         `json:"branch_id"`
	Version   int32                  `json:"version"`
	TypeID    string                 `json:"type_id"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	CreatedAt int64                  `json:"created_at"`
	RevisedAt int64                  `json:"revised_at"`
}

// RawExport writes the rows selected by rng to w as JSON lines: the counters first, then
// branches, commits, revisions, external references and lock areas with their locks.
// It reads from one transaction, so the export is consistent.
func (s *Store) RawExport(ctx context.Context, w io.Writer, rng RawRange, progress locking.Progress) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	var count int
	emit := func(v interface{}) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
		count++
		if progress != nil {
			return progress.Add(1)
		}
		return nil
	}

	c := s.Counters()
	err := emit(rawCountersRecord{
		Type:                   rawCounters,
		LastObjectID:           c.Objects.LastObjectID,
		NextLocalObjectID:      c.Objects.NextLocalObjectID,
		LastBranchID:           c.Branches.LastBranchID,
		LastLocalBranchID:      c.Branches.LastLocalBranchID,
		LastCommitTime:         c.LastCommitTime,
		LastNonLocalCommitTime: c.LastNonLocalCommitTime,
	})
	if err != nil {
		return count, err
	}

	err = s.pools.Read(ctx, func(tx store.Tx) error {
		branches, err := tx.ListBranches(ctx, rng.FromBranch, rng.ToBranch)
		if err != nil {
			return err
		}
		for _, b := range branches {
			if err := emit(rawBranchRecord{Type: rawBranch, Branch: b}); err != nil {
				return err
			}
		}
		for _, b := range branches {
			id := b.ID
			err := tx.ListCommitInfos(ctx, &id, rng.FromTime, rng.ToTime, func(ci store.CommitInfo) error {
				return emit(rawCommitRecord{Type: rawCommit, CommitInfo: ci})
			})
			if err != nil {
				return err
			}
		}
		for _, b := range branches {
			err := tx.ListBranchRevisions(ctx, b.ID, rng.FromTime, rng.ToTime, func(r store.Revision) error {
				return emit(rawRevisionRecord{
					Type:      rawRevision,
					ObjectID:  r.ObjectID.String(),
					BranchID:  r.BranchID,
					Version:   r.Version,
					TypeID:    r.Type,
					Fields:    r.Fields,
					CreatedAt: r.CreatedAt,
					RevisedAt: r.RevisedAt,
				})
			})
			if err != nil {
				return err
			}
		}
		return tx.ListExternalRefs(ctx, func(ref store.ExternalRef) error {
			if !rng.hasTime(ref.CommitTime) {
				return nil
			}
			return emit(rawExternalRefRecord{Type: rawExternalRef, ExternalRef: ref})
		})
	})
	if err != nil {
		return count, err
	}

	areas, err := s.locks.ExportAreas(ctx, enc, func(area store.LockArea) bool {
		return rng.hasBranch(area.BranchPoint.BranchID) && rng.hasTime(area.BranchPoint.Time)
	}, progress)
	count += areas
	if err != nil {
		return count, err
	}
	if err := bw.Flush(); err != nil {
		return count, err
	}
	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"records":     count,
		"from_branch": rng.FromBranch,
		"to_branch":   rng.ToBranch,
		"from_time":   rng.FromTime,
		"to_time":     rng.ToTime,
	}).Info("Raw export done")
	return count, nil
}

// RawImport applies records written by RawExport in one write transaction.  Rows that
// already exist are kept, except that an existing branch head moves forward to the
// imported head and imported lock areas replace existing ones.  Counters are then
// re-derived from the tables and never move back.
func (s *Store) RawImport(ctx context.Context, r io.Reader, progress locking.Progress) (int, error) {
	if !s.IsActive() {
		return 0, ErrNotActive
	}
	var (
		count, skipped int
		imported       *Counters
	)
	err := s.pools.Write(ctx, func(tx store.Tx) error {
		count, skipped, imported = 0, 0, nil
		dec := json.NewDecoder(bufio.NewReader(r))
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			var line json.RawMessage
			err := dec.Decode(&line)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: %s", ErrBadRawRecord, err)
			}
			var h rawHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("%w: %s", ErrBadRawRecord, err)
			}
			kept := true
			switch {
			case h.Type == rawCounters:
				var rec rawCountersRecord
				if err := json.Unmarshal(line, &rec); err != nil {
					return fmt.Errorf("%w: %s", ErrBadRawRecord, err)
				}
				imported = rec.counters()
			case locking.IsRecordType(h.Type):
				err = s.locks.ImportRecord(ctx, tx, line)
			default:
				kept, err = s.importRow(ctx, tx, h.Type, line)
			}
			if err != nil {
				return err
			}
			count++
			if !kept {
				skipped++
			}
			if progress != nil {
				if err := progress.Add(1); err != nil {
					return err
				}
			}
		}
	})
	if err != nil {
		return count, err
	}

	recovered, err := s.Recover(ctx)
	if err != nil {
		return count, err
	}
	if imported != nil {
		s.setCounters(mergeCounters(recovered, *imported))
	}
	if err := s.refs.Init(ctx); err != nil {
		return count, err
	}
	s.logger.WithContext(ctx).WithFields(logging.Fields{
		"records": count,
		"skipped": skipped,
	}).Info("Raw import done")
	return count, nil
}

// importRow inserts one table row and reports whether it was written.
func (s *Store) importRow(ctx context.Context, tx store.Tx, typ string, line []byte) (bool, error) {
	switch typ {
	case rawBranch:
		var rec rawBranchRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false, fmt.Errorf("%w: %s", ErrBadRawRecord, err)
		}
		existing, err := tx.GetBranch(ctx, rec.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return true, tx.InsertBranch(ctx, rec.Branch)
		case err != nil:
			return false, err
		case existing.HeadTime < rec.HeadTime:
			return true, tx.CompareAndSetBranchHead(ctx, rec.ID, existing.HeadTime, rec.HeadTime)
		default:
			return false, nil
		}

	case rawCommit:
		var rec rawCommitRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false, fmt.Errorf("%w: %s", ErrBadRawRecord, err)
		}
		_, err := tx.GetCommitInfo(ctx, rec.CommitTime)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return true, tx.InsertCommitInfo(ctx, rec.CommitInfo)
		case err != nil:
			return false, err
		default:
			return false, nil
		}

	case rawRevision:
		var rec rawRevisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false, fmt.Errorf("%w: %s", ErrBadRawRecord, err)
		}
		id, err := s.ids.CreateID(rec.ObjectID)
		if err != nil {
			return false, fmt.Errorf("%w: revision of %q: %s", ErrBadRawRecord, rec.ObjectID, err)
		}
		existing, err := tx.ListRevisions(ctx, id, rec.BranchID)
		if err != nil {
			return false, err
		}
		for _, r := range existing {
			if r.Version == rec.Version {
				return false, nil
			}
		}
		return true, tx.InsertRevision(ctx, store.Revision{
			ObjectID:  id,
			BranchID:  rec.BranchID,
			Version:   rec.Version,
			Type:      rec.TypeID,
			Fields:    rec.Fields,
			CreatedAt: rec.CreatedAt,
			RevisedAt: rec.RevisedAt,
		})

	case rawExternalRef:
		var rec rawExternalRefRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return false, fmt.Errorf("%w: %s", ErrBadRawRecord, err)
		}
		_, err := tx.GetExternalRefByURI(ctx, rec.URI)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return true, tx.InsertExternalRef(ctx, rec.ExternalRef)
		case err != nil:
			return false, err
		default:
			return false, nil
		}

	default:
		return false, fmt.Errorf("%w: type %q", ErrBadRawRecord, typ)
	}
}

func (r rawCountersRecord) counters() *Counters {
	c := Counters{
		LastCommitTime:         r.LastCommitTime,
		LastNonLocalCommitTime: r.LastNonLocalCommitTime,
	}
	c.Objects.LastObjectID = r.LastObjectID
	c.Objects.NextLocalObjectID = r.NextLocalObjectID
	c.Branches.LastBranchID = r.LastBranchID
	c.Branches.LastLocalBranchID = r.LastLocalBranchID
	return &c
}

// mergeCounters returns counters past both a and b.  Local ids count down.
func mergeCounters(a, b Counters) Counters {
	c := a
	c.Objects.LastObjectID = max(a.Objects.LastObjectID, b.Objects.LastObjectID)
	if b.Objects.NextLocalObjectID != 0 {
		c.Objects.NextLocalObjectID = min(a.Objects.NextLocalObjectID, b.Objects.NextLocalObjectID)
	}
	c.Branches.LastBranchID = max(a.Branches.LastBranchID, b.Branches.LastBranchID)
	c.Branches.LastLocalBranchID = min(a.Branches.LastLocalBranchID, b.Branches.LastLocalBranchID)
	c.LastCommitTime = max(a.LastCommitTime, b.LastCommitTime)
	c.LastNonLocalCommitTime = max(a.LastNonLocalCommitTime, b.LastNonLocalCommitTime)
	return c
}
