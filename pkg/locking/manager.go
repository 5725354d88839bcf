package locking

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/treeverse/termstore/pkg/accessor"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/logging"
	"github.com/treeverse/termstore/pkg/store"
)

const (
	// DurableIDLength is the length of generated lock area ids.
	DurableIDLength = 21

	maxCreateAttempts = 10
)

var (
	ErrIDsExhausted = errors.New("could not generate a unique lock area id")
	ErrInvalidGrade = errors.New("invalid lock grade")
)

// Manager owns durable lock areas.  Every call runs in its own write transaction, so an area
// is never observed half created, half updated or half deleted.
type Manager struct {
	tx     accessor.Transactor
	parser ident.Parser
	logger logging.Logger
	newID  func() (string, error)
}

func NewManager(tx accessor.Transactor, parser ident.Parser, logger logging.Logger) *Manager {
	return &Manager{
		tx:     tx,
		parser: parser,
		logger: logger,
		newID: func() (string, error) {
			return gonanoid.New(DurableIDLength)
		},
	}
}

func (m *Manager) log(ctx context.Context, areaID string) logging.Logger {
	return m.logger.WithContext(ctx).WithField(logging.LockAreaFieldKey, areaID)
}

// CreateLockArea persists area with its locks and returns its id.  An empty area.ID is
// replaced by a fresh random id, a supplied id that exists fails with ErrAlreadyExists.
func (m *Manager) CreateLockArea(ctx context.Context, area store.LockArea) (string, error) {
	err := m.tx.Write(ctx, func(tx store.Tx) error {
		id, err := m.reserveID(ctx, tx, area.ID)
		if err != nil {
			return err
		}
		area.ID = id
		if err := tx.InsertLockArea(ctx, area); err != nil {
			return err
		}
		return insertLocks(ctx, tx, area.ID, area.Locks)
	})
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			m.log(ctx, area.ID).WithError(err).Error("Lock area already exists")
		}
		return "", err
	}
	m.log(ctx, area.ID).WithFields(logging.Fields{
		logging.UserFieldKey: area.UserID,
		"branch_point":       area.BranchPoint,
		"locks":              len(area.Locks),
	}).Debug("Lock area created")
	return area.ID, nil
}

func (m *Manager) reserveID(ctx context.Context, tx store.Tx, id string) (string, error) {
	if id != "" {
		exists, err := tx.LockAreaExists(ctx, id)
		if err != nil {
			return "", err
		}
		if exists {
			return "", fmt.Errorf("lock area %s: %w", id, store.ErrAlreadyExists)
		}
		return id, nil
	}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := m.newID()
		if err != nil {
			return "", err
		}
		exists, err := tx.LockAreaExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
	}
	return "", ErrIDsExhausted
}

func insertLocks(ctx context.Context, tx store.Tx, areaID string, locks map[ident.ObjectID]store.LockGrade) error {
	for id, grade := range locks {
		if grade.IsNone() {
			continue
		}
		if grade&^store.LockAll != 0 {
			return fmt.Errorf("%w: %d on %s", ErrInvalidGrade, grade, id)
		}
		if err := tx.InsertLock(ctx, areaID, id, grade); err != nil {
			return err
		}
	}
	return nil
}

func loadLocks(ctx context.Context, tx store.Tx, area *store.LockArea) error {
	area.Locks = make(map[ident.ObjectID]store.LockGrade)
	return tx.ListLocks(ctx, area.ID, func(id ident.ObjectID, grade store.LockGrade) error {
		area.Locks[id] = grade
		return nil
	})
}

// GetLockArea returns the area with all its locks, ErrNotFound when it does not exist.
func (m *Manager) GetLockArea(ctx context.Context, id string) (*store.LockArea, error) {
	var area *store.LockArea
	err := m.tx.Read(ctx, func(tx store.Tx) error {
		var err error
		area, err = tx.GetLockArea(ctx, id, false)
		if err != nil {
			return err
		}
		return loadLocks(ctx, tx, area)
	})
	if err != nil {
		return nil, err
	}
	return area, nil
}

// GetLockAreas visits every area whose user id starts with userIDPrefix, locks included.
func (m *Manager) GetLockAreas(ctx context.Context, userIDPrefix string, fn func(store.LockArea) error) error {
	return m.tx.Read(ctx, func(tx store.Tx) error {
		var areas []store.LockArea
		err := tx.ListLockAreas(ctx, userIDPrefix, func(area store.LockArea) error {
			areas = append(areas, area)
			return nil
		})
		if err != nil {
			return err
		}
		for i := range areas {
			if err := loadLocks(ctx, tx, &areas[i]); err != nil {
				return err
			}
			if err := fn(areas[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateLockArea replaces the area attributes and its locks.
func (m *Manager) UpdateLockArea(ctx context.Context, area store.LockArea) error {
	return m.tx.Write(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLockArea(ctx, area.ID, true); err != nil {
			return err
		}
		if err := tx.UpdateLockArea(ctx, area); err != nil {
			return err
		}
		if _, err := tx.DeleteLocks(ctx, area.ID); err != nil {
			return err
		}
		return insertLocks(ctx, tx, area.ID, area.Locks)
	})
}

// DeleteLockArea removes the area and all its locks.
func (m *Manager) DeleteLockArea(ctx context.Context, id string) error {
	var n int64
	err := m.tx.Write(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLockArea(ctx, id, true); err != nil {
			return err
		}
		var err error
		n, err = tx.DeleteLocks(ctx, id)
		if err != nil {
			return err
		}
		return tx.DeleteLockArea(ctx, id)
	})
	if err != nil {
		return err
	}
	m.log(ctx, id).WithField("locks", n).Debug("Lock area deleted")
	return nil
}

// Lock adds grade to the lock of every object in ids.
func (m *Manager) Lock(ctx context.Context, areaID string, grade store.LockGrade, ids []ident.ObjectID) error {
	return m.changeLocks(ctx, areaID, grade, ids, true)
}

// Unlock removes grade from the lock of every object in ids.  Objects left without any grade
// lose their lock row.
func (m *Manager) Unlock(ctx context.Context, areaID string, grade store.LockGrade, ids []ident.ObjectID) error {
	return m.changeLocks(ctx, areaID, grade, ids, false)
}

// UnlockAll removes every lock of the area and keeps the area.
func (m *Manager) UnlockAll(ctx context.Context, areaID string) error {
	return m.tx.Write(ctx, func(tx store.Tx) error {
		if _, err := tx.GetLockArea(ctx, areaID, true); err != nil {
			return err
		}
		_, err := tx.DeleteLocks(ctx, areaID)
		return err
	})
}

func (m *Manager) changeLocks(ctx context.Context, areaID string, grade store.LockGrade, ids []ident.ObjectID, on bool) error {
	if grade.IsNone() || grade&^store.LockAll != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGrade, grade)
	}
	return m.tx.Write(ctx, func(tx store.Tx) error {
		// serializes lock changes of the area until commit
		if _, err := tx.GetLockArea(ctx, areaID, true); err != nil {
			return err
		}
		for _, id := range ids {
			if err := changeLock(ctx, tx, areaID, id, grade, on); err != nil {
				return err
			}
		}
		return nil
	})
}

func changeLock(ctx context.Context, tx store.Tx, areaID string, id ident.ObjectID, grade store.LockGrade, on bool) error {
	oldGrade, err := tx.GetLockGrade(ctx, areaID, id)
	if err != nil {
		return err
	}
	newGrade := oldGrade.Updated(grade, on)
	switch {
	case newGrade == oldGrade:
		return nil
	case oldGrade.IsNone():
		return tx.InsertLock(ctx, areaID, id, newGrade)
	case newGrade.IsNone():
		return tx.DeleteLock(ctx, areaID, id)
	default:
		return tx.UpdateLock(ctx, areaID, id, newGrade)
	}
}
