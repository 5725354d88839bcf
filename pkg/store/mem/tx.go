package mem

import (
	"context"
	"sort"
	"strings"

	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

type tx struct {
	conn     *conn
	st       *state
	readOnly bool
	done     bool
}

func (t *tx) ReadOnly() bool {
	return t.readOnly
}

func (t *tx) Commit(_ context.Context) error {
	if !t.conn.finish(t) {
		return store.NewError("commit", "", store.ErrTxClosed)
	}
	if !t.readOnly {
		t.conn.backend.publish(t.st)
		t.conn.backend.releaseWriter()
	}
	return nil
}

func (t *tx) Rollback(_ context.Context) error {
	if !t.conn.finish(t) {
		return nil
	}
	if !t.readOnly {
		t.conn.backend.releaseWriter()
	}
	return nil
}

func (t *tx) check(op, table string, write bool) error {
	if t.done {
		return store.NewError(op, table, store.ErrTxClosed)
	}
	if write && t.readOnly {
		return store.NewError(op, table, store.ErrReadOnly)
	}
	return nil
}

func (t *tx) GetProperties(_ context.Context, names ...string) (map[string]string, error) {
	if err := t.check("get", store.TableProperties, false); err != nil {
		return nil, err
	}
	res := make(map[string]string)
	if len(names) == 0 {
		for k, v := range t.st.properties {
			res[k] = v
		}
		return res, nil
	}
	for _, name := range names {
		if v, ok := t.st.properties[name]; ok {
			res[name] = v
		}
	}
	return res, nil
}

func (t *tx) SetProperties(_ context.Context, props map[string]string) error {
	if err := t.check("set", store.TableProperties, true); err != nil {
		return err
	}
	for k, v := range props {
		t.st.properties[k] = v
	}
	return nil
}

func (t *tx) RemoveProperties(_ context.Context, names ...string) error {
	if err := t.check("remove", store.TableProperties, true); err != nil {
		return err
	}
	for _, name := range names {
		delete(t.st.properties, name)
	}
	return nil
}

func (t *tx) InsertBranch(_ context.Context, b store.Branch) error {
	if err := t.check("insert", store.TableBranches, true); err != nil {
		return err
	}
	if _, ok := t.st.branches[b.ID]; ok {
		return store.NewError("insert", store.TableBranches, store.ErrAlreadyExists)
	}
	t.st.branches[b.ID] = b
	return nil
}

func (t *tx) GetBranch(_ context.Context, id store.BranchID) (*store.Branch, error) {
	if err := t.check("get", store.TableBranches, false); err != nil {
		return nil, err
	}
	b, ok := t.st.branches[id]
	if !ok {
		return nil, store.NewError("get", store.TableBranches, store.ErrNotFound)
	}
	return &b, nil
}

func (t *tx) ListSubBranches(_ context.Context, baseID store.BranchID) ([]store.Branch, error) {
	if err := t.check("list", store.TableBranches, false); err != nil {
		return nil, err
	}
	var res []store.Branch
	for _, b := range t.st.branches {
		if b.BaseBranchID == baseID && b.ID != baseID {
			res = append(res, b)
		}
	}
	sortBranches(res)
	return res, nil
}

func (t *tx) ListBranches(_ context.Context, from, to store.BranchID) ([]store.Branch, error) {
	if err := t.check("list", store.TableBranches, false); err != nil {
		return nil, err
	}
	var res []store.Branch
	for _, b := range t.st.branches {
		if b.ID >= from && b.ID <= to {
			res = append(res, b)
		}
	}
	sortBranches(res)
	return res, nil
}

func sortBranches(branches []store.Branch) {
	sort.Slice(branches, func(i, j int) bool { return branches[i].ID < branches[j].ID })
}

func (t *tx) CompareAndSetBranchHead(_ context.Context, id store.BranchID, prev, next int64) error {
	if err := t.check("update", store.TableBranches, true); err != nil {
		return err
	}
	b, ok := t.st.branches[id]
	if !ok {
		return store.NewError("update", store.TableBranches, store.ErrNotFound)
	}
	if b.HeadTime != prev {
		return store.NewError("update", store.TableBranches, store.ErrStaleCommit)
	}
	b.HeadTime = next
	t.st.branches[id] = b
	return nil
}

func (t *tx) InsertCommitInfo(_ context.Context, ci store.CommitInfo) error {
	if err := t.check("insert", store.TableCommitInfos, true); err != nil {
		return err
	}
	if _, ok := t.st.commits[ci.CommitTime]; ok {
		return store.NewError("insert", store.TableCommitInfos, store.ErrAlreadyExists)
	}
	t.st.commits[ci.CommitTime] = ci
	return nil
}

func (t *tx) GetCommitInfo(_ context.Context, commitTime int64) (*store.CommitInfo, error) {
	if err := t.check("get", store.TableCommitInfos, false); err != nil {
		return nil, err
	}
	ci, ok := t.st.commits[commitTime]
	if !ok {
		return nil, store.NewError("get", store.TableCommitInfos, store.ErrNotFound)
	}
	return &ci, nil
}

func (t *tx) ListCommitInfos(ctx context.Context, branch *store.BranchID, from, to int64, fn func(store.CommitInfo) error) error {
	if err := t.check("list", store.TableCommitInfos, false); err != nil {
		return err
	}
	var res []store.CommitInfo
	for _, ci := range t.st.commits {
		if ci.CommitTime < from || ci.CommitTime > to {
			continue
		}
		if branch != nil && ci.BranchID != *branch {
			continue
		}
		res = append(res, ci)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CommitTime < res[j].CommitTime })
	for _, ci := range res {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ci); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) InsertRevision(_ context.Context, r store.Revision) error {
	if err := t.check("insert", store.TableRevisions, true); err != nil {
		return err
	}
	key := revKey{id: r.ObjectID, branch: r.BranchID}
	revs := t.st.revisions[key]
	for _, existing := range revs {
		if existing.Version == r.Version {
			return store.NewError("insert", store.TableRevisions, store.ErrAlreadyExists)
		}
		if r.IsCurrent() && existing.IsCurrent() {
			return store.NewError("insert", store.TableRevisions, store.ErrAlreadyExists)
		}
	}
	t.st.revisions[key] = append(revs, r)
	return nil
}

func (t *tx) ReviseRevision(_ context.Context, id ident.ObjectID, branch store.BranchID, version int32, revisedAt int64) error {
	if err := t.check("revise", store.TableRevisions, true); err != nil {
		return err
	}
	revs := t.st.revisions[revKey{id: id, branch: branch}]
	for i := range revs {
		if revs[i].Version == version && revs[i].IsCurrent() {
			revs[i].RevisedAt = revisedAt
			return nil
		}
	}
	return store.NewError("revise", store.TableRevisions, store.ErrNotFound)
}

func (t *tx) GetCurrentRevision(_ context.Context, id ident.ObjectID, branch store.BranchID) (*store.Revision, error) {
	if err := t.check("get", store.TableRevisions, false); err != nil {
		return nil, err
	}
	for _, r := range t.st.revisions[revKey{id: id, branch: branch}] {
		if r.IsCurrent() {
			return &r, nil
		}
	}
	return nil, store.NewError("get", store.TableRevisions, store.ErrNotFound)
}

func (t *tx) GetRevisionAt(_ context.Context, id ident.ObjectID, branch store.BranchID, at int64) (*store.Revision, error) {
	if err := t.check("get", store.TableRevisions, false); err != nil {
		return nil, err
	}
	for _, r := range t.st.revisions[revKey{id: id, branch: branch}] {
		if r.ValidAt(at) {
			return &r, nil
		}
	}
	return nil, store.NewError("get", store.TableRevisions, store.ErrNotFound)
}

func (t *tx) ListRevisions(_ context.Context, id ident.ObjectID, branch store.BranchID) ([]store.Revision, error) {
	if err := t.check("list", store.TableRevisions, false); err != nil {
		return nil, err
	}
	res := append([]store.Revision(nil), t.st.revisions[revKey{id: id, branch: branch}]...)
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt < res[j].CreatedAt })
	return res, nil
}

func (t *tx) ListBranchRevisions(ctx context.Context, branch store.BranchID, from, to int64, fn func(store.Revision) error) error {
	if err := t.check("list", store.TableRevisions, false); err != nil {
		return err
	}
	var res []store.Revision
	for k, revs := range t.st.revisions {
		if k.branch != branch {
			continue
		}
		for _, r := range revs {
			if r.CreatedAt >= from && r.CreatedAt <= to {
				res = append(res, r)
			}
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt < res[j].CreatedAt
		}
		return res[i].ObjectID.String() < res[j].ObjectID.String()
	})
	for _, r := range res {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) InsertExternalRef(_ context.Context, ref store.ExternalRef) error {
	if err := t.check("insert", store.TableExternalRefs, true); err != nil {
		return err
	}
	if ref.ID >= 0 {
		return store.NewError("insert", store.TableExternalRefs, store.ErrInvalidValue)
	}
	if _, ok := t.st.refs[ref.ID]; ok {
		return store.NewError("insert", store.TableExternalRefs, store.ErrAlreadyExists)
	}
	if _, ok := t.st.refsByURI[ref.URI]; ok {
		return store.NewError("insert", store.TableExternalRefs, store.ErrAlreadyExists)
	}
	t.st.refs[ref.ID] = ref
	t.st.refsByURI[ref.URI] = ref.ID
	return nil
}

func (t *tx) MapExternalRef(ctx context.Context, ref store.ExternalRef) (*store.ExternalRef, error) {
	if err := t.check("map", store.TableExternalRefs, true); err != nil {
		return nil, err
	}
	if id, ok := t.st.refsByURI[ref.URI]; ok {
		existing := t.st.refs[id]
		return &existing, nil
	}
	if err := t.InsertExternalRef(ctx, ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (t *tx) GetExternalRef(_ context.Context, id int64) (*store.ExternalRef, error) {
	if err := t.check("get", store.TableExternalRefs, false); err != nil {
		return nil, err
	}
	ref, ok := t.st.refs[id]
	if !ok {
		return nil, store.NewError("get", store.TableExternalRefs, store.ErrNotFound)
	}
	return &ref, nil
}

func (t *tx) GetExternalRefByURI(_ context.Context, uri string) (*store.ExternalRef, error) {
	if err := t.check("get", store.TableExternalRefs, false); err != nil {
		return nil, err
	}
	id, ok := t.st.refsByURI[uri]
	if !ok {
		return nil, store.NewError("get", store.TableExternalRefs, store.ErrNotFound)
	}
	ref := t.st.refs[id]
	return &ref, nil
}

func (t *tx) MinExternalRefID(_ context.Context) (int64, error) {
	if err := t.check("min", store.TableExternalRefs, false); err != nil {
		return 0, err
	}
	var minID int64
	for id := range t.st.refs {
		if id < minID {
			minID = id
		}
	}
	return minID, nil
}

func (t *tx) ListExternalRefs(ctx context.Context, fn func(store.ExternalRef) error) error {
	if err := t.check("list", store.TableExternalRefs, false); err != nil {
		return err
	}
	ids := make([]int64, 0, len(t.st.refs))
	for id := range t.st.refs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(t.st.refs[id]); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) InsertLockArea(_ context.Context, area store.LockArea) error {
	if err := t.check("insert", store.TableLockAreas, true); err != nil {
		return err
	}
	if _, ok := t.st.areas[area.ID]; ok {
		return store.NewError("insert", store.TableLockAreas, store.ErrAlreadyExists)
	}
	area.Locks = nil
	t.st.areas[area.ID] = area
	return nil
}

func (t *tx) LockAreaExists(_ context.Context, id string) (bool, error) {
	if err := t.check("get", store.TableLockAreas, false); err != nil {
		return false, err
	}
	_, ok := t.st.areas[id]
	return ok, nil
}

func (t *tx) GetLockArea(_ context.Context, id string, forUpdate bool) (*store.LockArea, error) {
	if err := t.check("get", store.TableLockAreas, forUpdate); err != nil {
		return nil, err
	}
	area, ok := t.st.areas[id]
	if !ok {
		return nil, store.NewError("get", store.TableLockAreas, store.ErrNotFound)
	}
	return &area, nil
}

func (t *tx) UpdateLockArea(_ context.Context, area store.LockArea) error {
	if err := t.check("update", store.TableLockAreas, true); err != nil {
		return err
	}
	if _, ok := t.st.areas[area.ID]; !ok {
		return store.NewError("update", store.TableLockAreas, store.ErrNotFound)
	}
	area.Locks = nil
	t.st.areas[area.ID] = area
	return nil
}

func (t *tx) DeleteLockArea(_ context.Context, id string) error {
	if err := t.check("delete", store.TableLockAreas, true); err != nil {
		return err
	}
	if _, ok := t.st.areas[id]; !ok {
		return store.NewError("delete", store.TableLockAreas, store.ErrNotFound)
	}
	for k := range t.st.locks {
		if k.area == id {
			return store.NewError("delete", store.TableLockAreas, store.ErrConsistency)
		}
	}
	delete(t.st.areas, id)
	return nil
}

func (t *tx) ListLockAreas(ctx context.Context, userIDPrefix string, fn func(store.LockArea) error) error {
	if err := t.check("list", store.TableLockAreas, false); err != nil {
		return err
	}
	ids := make([]string, 0, len(t.st.areas))
	for id, area := range t.st.areas {
		if strings.HasPrefix(area.UserID, userIDPrefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(t.st.areas[id]); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetLockGrade(_ context.Context, areaID string, id ident.ObjectID) (store.LockGrade, error) {
	if err := t.check("get", store.TableLocks, false); err != nil {
		return store.LockNone, err
	}
	return t.st.locks[lockKey{area: areaID, id: id}], nil
}

func (t *tx) InsertLock(_ context.Context, areaID string, id ident.ObjectID, grade store.LockGrade) error {
	if err := t.check("insert", store.TableLocks, true); err != nil {
		return err
	}
	if _, ok := t.st.areas[areaID]; !ok {
		return store.NewError("insert", store.TableLocks, store.ErrConsistency)
	}
	key := lockKey{area: areaID, id: id}
	if _, ok := t.st.locks[key]; ok {
		return store.NewError("insert", store.TableLocks, store.ErrAlreadyExists)
	}
	t.st.locks[key] = grade
	return nil
}

func (t *tx) UpdateLock(_ context.Context, areaID string, id ident.ObjectID, grade store.LockGrade) error {
	if err := t.check("update", store.TableLocks, true); err != nil {
		return err
	}
	key := lockKey{area: areaID, id: id}
	if _, ok := t.st.locks[key]; !ok {
		return store.NewError("update", store.TableLocks, store.ErrNotFound)
	}
	t.st.locks[key] = grade
	return nil
}

func (t *tx) DeleteLock(_ context.Context, areaID string, id ident.ObjectID) error {
	if err := t.check("delete", store.TableLocks, true); err != nil {
		return err
	}
	key := lockKey{area: areaID, id: id}
	if _, ok := t.st.locks[key]; !ok {
		return store.NewError("delete", store.TableLocks, store.ErrNotFound)
	}
	delete(t.st.locks, key)
	return nil
}

func (t *tx) DeleteLocks(_ context.Context, areaID string) (int64, error) {
	if err := t.check("delete", store.TableLocks, true); err != nil {
		return 0, err
	}
	var n int64
	for k := range t.st.locks {
		if k.area == areaID {
			delete(t.st.locks, k)
			n++
		}
	}
	return n, nil
}

func (t *tx) ListLocks(ctx context.Context, areaID string, fn func(ident.ObjectID, store.LockGrade) error) error {
	if err := t.check("list", store.TableLocks, false); err != nil {
		return err
	}
	var keys []lockKey
	for k := range t.st.locks {
		if k.area == areaID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id.String() < keys[j].id.String() })
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k.id, t.st.locks[k]); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) MaxBranchID(_ context.Context) (store.BranchID, error) {
	if err := t.check("max", store.TableBranches, false); err != nil {
		return 0, err
	}
	var maxID store.BranchID
	for id := range t.st.branches {
		if id > maxID {
			maxID = id
		}
	}
	return maxID, nil
}

func (t *tx) MinBranchID(_ context.Context) (store.BranchID, error) {
	if err := t.check("min", store.TableBranches, false); err != nil {
		return 0, err
	}
	var minID store.BranchID
	for id := range t.st.branches {
		if id < minID {
			minID = id
		}
	}
	return minID, nil
}

func (t *tx) MaxCommitTime(_ context.Context, nonLocal bool) (int64, error) {
	if err := t.check("max", store.TableCommitInfos, false); err != nil {
		return 0, err
	}
	var maxTime int64
	for _, ci := range t.st.commits {
		if nonLocal && ci.BranchID < 0 {
			continue
		}
		if ci.CommitTime > maxTime {
			maxTime = ci.CommitTime
		}
	}
	return maxTime, nil
}

func (t *tx) MaxObjectSeq(_ context.Context) (int64, error) {
	if err := t.check("max", store.TableRevisions, false); err != nil {
		return 0, err
	}
	var maxSeq int64
	for k := range t.st.revisions {
		if k.branch < 0 {
			continue
		}
		if seq, ok := k.id.Seq(); ok && seq > maxSeq {
			maxSeq = seq
		}
	}
	return maxSeq, nil
}

func (t *tx) MinLocalObjectSeq(_ context.Context, above int64) (int64, bool, error) {
	if err := t.check("min", store.TableRevisions, false); err != nil {
		return 0, false, err
	}
	var (
		minSeq int64
		found  bool
	)
	for k := range t.st.revisions {
		if k.branch >= 0 {
			continue
		}
		seq, ok := k.id.Seq()
		if !ok || seq <= above {
			continue
		}
		if !found || seq < minSeq {
			minSeq = seq
			found = true
		}
	}
	return minSeq, found, nil
}

func (t *tx) QueryRows(_ context.Context, _ string, _ ...interface{}) (*store.Rows, error) {
	return nil, store.NewError("query", "", store.ErrUnsupported)
}
