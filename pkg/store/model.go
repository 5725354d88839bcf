package store

import (
	"fmt"
	"strings"

	"github.com/treeverse/termstore/pkg/ident"
)

type BranchID int32

const (
	MainBranchID   BranchID = 0
	MainBranchName          = "MAIN"
)

// Branch is a line of revision history.  History before BaseTimestamp is inherited from the
// base branch.  Durable branches have non-negative ids, local branches negative ones.
type Branch struct {
	ID            BranchID `db:"id" json:"id"`
	Name          string   `db:"name" json:"name"`
	BaseBranchID  BranchID `db:"base_branch_id" json:"base_branch_id"`
	BaseTimestamp int64    `db:"base_time" json:"base_time"`
	// HeadTime is the time of the last commit on the branch, 0 before the first commit.
	HeadTime int64 `db:"head_time" json:"head_time"`
}

func (b Branch) IsLocal() bool {
	return b.ID < 0
}

func (b Branch) IsMain() bool {
	return b.ID == MainBranchID
}

// ReadTime is the latest time visible on the branch: its head, or its base timestamp
// before the first commit.
func (b Branch) ReadTime() int64 {
	return max(b.HeadTime, b.BaseTimestamp)
}

func (b Branch) Point(t int64) BranchPoint {
	return BranchPoint{BranchID: b.ID, Time: t}
}

func (b Branch) String() string {
	return fmt.Sprintf("%s[%d]", b.Name, b.ID)
}

// BranchPoint is a position in time on a branch.
type BranchPoint struct {
	BranchID BranchID `json:"branch_id"`
	Time     int64    `json:"time"`
}

func (p BranchPoint) String() string {
	return fmt.Sprintf("%d@%d", p.BranchID, p.Time)
}

// CommitInfo is one row of the commit log.
type CommitInfo struct {
	CommitTime   int64    `db:"commit_time" json:"commit_time"`
	PreviousTime int64    `db:"previous_time" json:"previous_time"`
	BranchID     BranchID `db:"branch_id" json:"branch_id"`
	UserID       string   `db:"user_id" json:"user_id"`
	Comment      string   `db:"comment" json:"comment"`
}

// OpenRevision is the RevisedAt value of a current revision.
const OpenRevision int64 = 0

// Revision is one immutable version of an object on a branch.  It is valid in
// [CreatedAt, RevisedAt); a negative Version marks the object as detached.
type Revision struct {
	ObjectID  ident.ObjectID
	BranchID  BranchID
	Version   int32
	Type      string
	Fields    map[string]interface{}
	CreatedAt int64
	RevisedAt int64
}

func (r Revision) IsDetached() bool {
	return r.Version < 0
}

func (r Revision) IsCurrent() bool {
	return r.RevisedAt == OpenRevision
}

// ValidAt reports whether the revision is the visible one at time t.
func (r Revision) ValidAt(t int64) bool {
	return r.CreatedAt <= t && (r.RevisedAt == OpenRevision || t < r.RevisedAt)
}

// ExternalRef maps a URI to a negative local id.
type ExternalRef struct {
	ID         int64  `db:"id" json:"id"`
	URI        string `db:"uri" json:"uri"`
	CommitTime int64  `db:"commit_time" json:"commit_time"`
}

// LockGrade is a set of lock bits held on one object.
type LockGrade uint8

const (
	LockNone   LockGrade = 0
	LockRead   LockGrade = 1
	LockWrite  LockGrade = 2
	LockOption LockGrade = 4

	LockAll = LockRead | LockWrite | LockOption
)

// Updated returns the grade with t added or removed.
func (g LockGrade) Updated(t LockGrade, on bool) LockGrade {
	if on {
		return (g | t) & LockAll
	}
	return g &^ t
}

func (g LockGrade) IsNone() bool {
	return g == LockNone
}

func (g LockGrade) Has(t LockGrade) bool {
	return t != LockNone && g&t == t
}

func (g LockGrade) String() string {
	if g == LockNone {
		return "NONE"
	}
	var parts []string
	if g&LockRead != 0 {
		parts = append(parts, "READ")
	}
	if g&LockWrite != 0 {
		parts = append(parts, "WRITE")
	}
	if g&LockOption != 0 {
		parts = append(parts, "OPTION")
	}
	return strings.Join(parts, "+")
}

func ParseLockGrade(s string) (LockGrade, error) {
	var g LockGrade
	for _, part := range strings.Split(strings.ToUpper(s), "+") {
		switch strings.TrimSpace(part) {
		case "NONE":
		case "READ":
			g |= LockRead
		case "WRITE":
			g |= LockWrite
		case "OPTION":
			g |= LockOption
		default:
			return LockNone, fmt.Errorf("%w: lock grade %q", ErrInvalidValue, s)
		}
	}
	return g, nil
}

// LockArea is a durable holder of lock grades on behalf of a user session.
type LockArea struct {
	ID          string
	UserID      string
	BranchPoint BranchPoint
	ReadOnly    bool
	Locks       map[ident.ObjectID]LockGrade
}

// Rows is the raw result of a query.
type Rows struct {
	Columns []string
	Values  [][]interface{}
}
