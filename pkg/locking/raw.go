package locking

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/treeverse/termstore/pkg/store"
)

const (
	recordArea = "area"
	recordLock = "lock"
)

var ErrBadRecord = errors.New("bad lock record")

// Progress is notified of every exported or imported record.
type Progress interface {
	Add(num int) error
}

type record struct {
	Type     string             `json:"type"`
	AreaID   string             `json:"area_id"`
	UserID   string             `json:"user_id,omitempty"`
	Branch   *store.BranchPoint `json:"branch_point,omitempty"`
	ReadOnly bool               `json:"read_only,omitempty"`
	ObjectID string             `json:"object_id,omitempty"`
	Grade    store.LockGrade    `json:"grade,omitempty"`
}

func notify(p Progress) error {
	if p == nil {
		return nil
	}
	return p.Add(1)
}

// RawExport writes all lock areas and their locks to w as JSON lines, each area followed by
// its locks.
func (m *Manager) RawExport(ctx context.Context, w io.Writer, progress Progress) error {
	bw := bufio.NewWriter(w)
	count, err := m.ExportAreas(ctx, json.NewEncoder(bw), nil, progress)
	if err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	m.logger.WithContext(ctx).WithField("records", count).Info("Lock areas exported")
	return nil
}

// ExportAreas encodes the lock areas accepted by include (all when nil), each followed by
// its locks, and returns the number of records written.
func (m *Manager) ExportAreas(ctx context.Context, enc *json.Encoder, include func(store.LockArea) bool, progress Progress) (int, error) {
	var count int
	emit := func(rec record) error {
		if err := enc.Encode(rec); err != nil {
			return err
		}
		count++
		return notify(progress)
	}
	err := m.GetLockAreas(ctx, "", func(area store.LockArea) error {
		if include != nil && !include(area) {
			return nil
		}
		branch := area.BranchPoint
		err := emit(record{
			Type:     recordArea,
			AreaID:   area.ID,
			UserID:   area.UserID,
			Branch:   &branch,
			ReadOnly: area.ReadOnly,
		})
		if err != nil {
			return err
		}
		for id, grade := range area.Locks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := emit(record{Type: recordLock, AreaID: area.ID, ObjectID: id.String(), Grade: grade}); err != nil {
				return err
			}
		}
		return nil
	})
	return count, err
}

// IsRecordType reports whether typ names a record written by ExportAreas.
func IsRecordType(typ string) bool {
	return typ == recordArea || typ == recordLock
}

// ImportRecord applies one JSON record written by ExportAreas within tx.  An imported area
// replaces an existing area with the same id.
func (m *Manager) ImportRecord(ctx context.Context, tx store.Tx, line []byte) error {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return fmt.Errorf("%w: %s", ErrBadRecord, err)
	}
	return m.importRecord(ctx, tx, rec)
}

// RawImport reads records written by RawExport and applies them in one transaction.
// Imported areas replace existing areas with the same id.
func (m *Manager) RawImport(ctx context.Context, r io.Reader, progress Progress) error {
	var count int
	err := m.tx.Write(ctx, func(tx store.Tx) error {
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
				return fmt.Errorf("%w: %s", ErrBadRecord, err)
			}
			if err := m.ImportRecord(ctx, tx, line); err != nil {
				return err
			}
			count++
			if err := notify(progress); err != nil {
				return err
			}
		}
	})
	if err != nil {
		return err
	}
	m.logger.WithContext(ctx).WithField("records", count).Info("Lock areas imported")
	return nil
}

func (m *Manager) importRecord(ctx context.Context, tx store.Tx, rec record) error {
	if rec.AreaID == "" {
		return fmt.Errorf("%w: missing area id", ErrBadRecord)
	}
	switch rec.Type {
	case recordArea:
		if rec.Branch == nil {
			return fmt.Errorf("%w: area %s without branch point", ErrBadRecord, rec.AreaID)
		}
		exists, err := tx.LockAreaExists(ctx, rec.AreaID)
		if err != nil {
			return err
		}
		if exists {
			if _, err := tx.DeleteLocks(ctx, rec.AreaID); err != nil {
				return err
			}
			if err := tx.DeleteLockArea(ctx, rec.AreaID); err != nil {
				return err
			}
		}
		return tx.InsertLockArea(ctx, store.LockArea{
			ID:          rec.AreaID,
			UserID:      rec.UserID,
			BranchPoint: *rec.Branch,
			ReadOnly:    rec.ReadOnly,
		})
	case recordLock:
		id, err := m.parser.CreateID(rec.ObjectID)
		if err != nil {
			return err
		}
		if rec.Grade.IsNone() || rec.Grade&^store.LockAll != 0 {
			return fmt.Errorf("%w: %d on %s", ErrInvalidGrade, rec.Grade, rec.ObjectID)
		}
		return tx.InsertLock(ctx, rec.AreaID, id, rec.Grade)
	default:
		return fmt.Errorf("%w: type %q", ErrBadRecord, rec.Type)
	}
}
