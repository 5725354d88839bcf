package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/treeverse/termstore/pkg/db"
	"github.com/treeverse/termstore/pkg/ident"
	"github.com/treeverse/termstore/pkg/store"
)

type tx struct {
	conn     *conn
	tx       *db.ConnTx
	parser   ident.Parser
	readOnly bool
	done     bool
}

func (t *tx) ReadOnly() bool {
	return t.readOnly
}

func (t *tx) Commit(ctx context.Context) error {
	if !t.conn.finish(t) {
		return store.NewError("commit", "", store.ErrTxClosed)
	}
	return translate("commit", "", t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if !t.conn.finish(t) {
		return nil
	}
	return translate("rollback", "", t.tx.Rollback(ctx))
}

func (t *tx) writable(op, table string) error {
	if t.readOnly {
		return store.NewError(op, table, store.ErrReadOnly)
	}
	return nil
}

func (t *tx) GetProperties(ctx context.Context, names ...string) (map[string]string, error) {
	type property struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	var props []property
	var err error
	if len(names) == 0 {
		err = t.tx.Select(ctx, &props, `SELECT name, value FROM properties`)
	} else {
		err = t.tx.Select(ctx, &props, `SELECT name, value FROM properties WHERE name = ANY($1)`, names)
	}
	if err != nil {
		return nil, translate("get", store.TableProperties, err)
	}
	res := make(map[string]string, len(props))
	for _, p := range props {
		res[p.Name] = p.Value
	}
	return res, nil
}

func (t *tx) SetProperties(ctx context.Context, props map[string]string) error {
	if err := t.writable("set", store.TableProperties); err != nil {
		return err
	}
	for name, value := range props {
		_, err := t.tx.Exec(ctx, `INSERT INTO properties (name, value) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, name, value)
		if err != nil {
			return translate("set", store.TableProperties, err)
		}
	}
	return nil
}

func (t *tx) RemoveProperties(ctx context.Context, names ...string) error {
	if err := t.writable("remove", store.TableProperties); err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM properties WHERE name = ANY($1)`, names)
	return translate("remove", store.TableProperties, err)
}

const branchColumns = `id, name, base_branch_id, base_time, head_time`

func (t *tx) InsertBranch(ctx context.Context, b store.Branch) error {
	if err := t.writable("insert", store.TableBranches); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO branches (`+branchColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.Name, b.BaseBranchID, b.BaseTimestamp, b.HeadTime)
	return translate("insert", store.TableBranches, err)
}

func (t *tx) GetBranch(ctx context.Context, id store.BranchID) (*store.Branch, error) {
	var b store.Branch
	err := t.tx.Get(ctx, &b, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id)
	if err != nil {
		return nil, translate("get", store.TableBranches, err)
	}
	return &b, nil
}

func (t *tx) ListSubBranches(ctx context.Context, baseID store.BranchID) ([]store.Branch, error) {
	var branches []store.Branch
	err := t.tx.Select(ctx, &branches, `SELECT `+branchColumns+` FROM branches
		WHERE base_branch_id = $1 AND id <> $1 ORDER BY id`, baseID)
	if err != nil {
		return nil, translate("list", store.TableBranches, err)
	}
	return branches, nil
}

func (t *tx) ListBranches(ctx context.Context, from, to store.BranchID) ([]store.Branch, error) {
	var branches []store.Branch
	err := t.tx.Select(ctx, &branches, `SELECT `+branchColumns+` FROM branches
		WHERE id BETWEEN $1 AND $2 ORDER BY id`, from, to)
	if err != nil {
		return nil, translate("list", store.TableBranches, err)
	}
	return branches, nil
}

func (t *tx) CompareAndSetBranchHead(ctx context.Context, id store.BranchID, prev, next int64) error {
	if err := t.writable("update", store.TableBranches); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `UPDATE branches SET head_time = $3 WHERE id = $1 AND head_time = $2`, id, prev, next)
	if err != nil {
		return translate("update", store.TableBranches, err)
	}
	if res.RowsAffected() == 1 {
		return nil
	}
	if _, err := t.GetBranch(ctx, id); err != nil {
		return translate("update", store.TableBranches, err)
	}
	return store.NewError("update", store.TableBranches, store.ErrStaleCommit)
}

const commitColumns = `commit_time, previous_time, branch_id, user_id, comment`

func (t *tx) InsertCommitInfo(ctx context.Context, ci store.CommitInfo) error {
	if err := t.writable("insert", store.TableCommitInfos); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO commit_infos (`+commitColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		ci.CommitTime, ci.PreviousTime, ci.BranchID, ci.UserID, ci.Comment)
	return translate("insert", store.TableCommitInfos, err)
}

func (t *tx) GetCommitInfo(ctx context.Context, commitTime int64) (*store.CommitInfo, error) {
	var ci store.CommitInfo
	err := t.tx.Get(ctx, &ci, `SELECT `+commitColumns+` FROM commit_infos WHERE commit_time = $1`, commitTime)
	if err != nil {
		return nil, translate("get", store.TableCommitInfos, err)
	}
	return &ci, nil
}

func (t *tx) ListCommitInfos(ctx context.Context, branch *store.BranchID, from, to int64, fn func(store.CommitInfo) error) error {
	var commits []store.CommitInfo
	var err error
	if branch == nil {
		err = t.tx.Select(ctx, &commits, `SELECT `+commitColumns+` FROM commit_infos
			WHERE commit_time BETWEEN $1 AND $2 ORDER BY commit_time`, from, to)
	} else {
		err = t.tx.Select(ctx, &commits, `SELECT `+commitColumns+` FROM commit_infos
			WHERE branch_id = $3 AND commit_time BETWEEN $1 AND $2 ORDER BY commit_time`, from, to, *branch)
	}
	if err != nil {
		return translate("list", store.TableCommitInfos, err)
	}
	for _, ci := range commits {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ci); err != nil {
			return err
		}
	}
	return nil
}

type revisionRow struct {
	ObjectID  string                 `db:"object_id"`
	BranchID  int32                  `db:"branch_id"`
	Version   int32                  `db:"version"`
	TypeID    string                 `db:"type_id"`
	Fields    map[string]interface{} `db:"fields"`
	CreatedAt int64                  `db:"created_at"`
	RevisedAt int64                  `db:"revised_at"`
}

const revisionColumns = `object_id, branch_id, version, type_id, fields, created_at, revised_at`

func (t *tx) toRevision(row revisionRow) (*store.Revision, error) {
	id, err := t.parser.CreateID(row.ObjectID)
	if err != nil {
		return nil, err
	}
	return &store.Revision{
		ObjectID:  id,
		BranchID:  store.BranchID(row.BranchID),
		Version:   row.Version,
		Type:      row.TypeID,
		Fields:    row.Fields,
		CreatedAt: row.CreatedAt,
		RevisedAt: row.RevisedAt,
	}, nil
}

func objectSeq(id ident.ObjectID) *int64 {
	if seq, ok := id.Seq(); ok {
		return &seq
	}
	return nil
}

func (t *tx) InsertRevision(ctx context.Context, r store.Revision) error {
	if err := t.writable("insert", store.TableRevisions); err != nil {
		return err
	}
	fields := r.Fields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO revisions (object_id, object_seq, branch_id, version, type_id, fields, created_at, revised_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ObjectID.String(), objectSeq(r.ObjectID), r.BranchID, r.Version, r.Type, fields, r.CreatedAt, r.RevisedAt)
	return translate("insert", store.TableRevisions, err)
}

func (t *tx) ReviseRevision(ctx context.Context, id ident.ObjectID, branch store.BranchID, version int32, revisedAt int64) error {
	if err := t.writable("revise", store.TableRevisions); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `UPDATE revisions SET revised_at = $4
		WHERE object_id = $1 AND branch_id = $2 AND version = $3 AND revised_at = 0`,
		id.String(), branch, version, revisedAt)
	if err != nil {
		return translate("revise", store.TableRevisions, err)
	}
	if res.RowsAffected() == 0 {
		return store.NewError("revise", store.TableRevisions, store.ErrNotFound)
	}
	return nil
}

func (t *tx) getRevision(ctx context.Context, query string, args ...interface{}) (*store.Revision, error) {
	var row revisionRow
	if err := t.tx.Get(ctx, &row, query, args...); err != nil {
		return nil, translate("get", store.TableRevisions, err)
	}
	r, err := t.toRevision(row)
	if err != nil {
		return nil, store.NewError("get", store.TableRevisions, err)
	}
	return r, nil
}

func (t *tx) GetCurrentRevision(ctx context.Context, id ident.ObjectID, branch store.BranchID) (*store.Revision, error) {
	return t.getRevision(ctx, `SELECT `+revisionColumns+` FROM revisions
		WHERE object_id = $1 AND branch_id = $2 AND revised_at = 0`, id.String(), branch)
}

func (t *tx) GetRevisionAt(ctx context.Context, id ident.ObjectID, branch store.BranchID, at int64) (*store.Revision, error) {
	return t.getRevision(ctx, `SELECT `+revisionColumns+` FROM revisions
		WHERE object_id = $1 AND branch_id = $2 AND created_at <= $3 AND (revised_at = 0 OR revised_at > $3)`,
		id.String(), branch, at)
}

func (t *tx) ListRevisions(ctx context.Context, id ident.ObjectID, branch store.BranchID) ([]store.Revision, error) {
	var rows []revisionRow
	err := t.tx.Select(ctx, &rows, `SELECT `+revisionColumns+` FROM revisions
		WHERE object_id = $1 AND branch_id = $2 ORDER BY created_at`, id.String(), branch)
	if err != nil {
		return nil, translate("list", store.TableRevisions, err)
	}
	res := make([]store.Revision, 0, len(rows))
	for _, row := range rows {
		r, err := t.toRevision(row)
		if err != nil {
			return nil, store.NewError("list", store.TableRevisions, err)
		}
		res = append(res, *r)
	}
	return res, nil
}

func (t *tx) ListBranchRevisions(ctx context.Context, branch store.BranchID, from, to int64, fn func(store.Revision) error) error {
	var rows []revisionRow
	err := t.tx.Select(ctx, &rows, `SELECT `+revisionColumns+` FROM revisions
		WHERE branch_id = $1 AND created_at BETWEEN $2 AND $3 ORDER BY created_at, object_id`, branch, from, to)
	if err != nil {
		return translate("list", store.TableRevisions, err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := t.toRevision(row)
		if err != nil {
			return store.NewError("list", store.TableRevisions, err)
		}
		if err := fn(*r); err != nil {
			return err
		}
	}
	return nil
}

const externalRefColumns = `id, uri, commit_time`

func (t *tx) InsertExternalRef(ctx context.Context, ref store.ExternalRef) error {
	if err := t.writable("insert", store.TableExternalRefs); err != nil {
		return err
	}
	if ref.ID >= 0 {
		return store.NewError("insert", store.TableExternalRefs, store.ErrInvalidValue)
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO external_refs (`+externalRefColumns+`) VALUES ($1, $2, $3)`,
		ref.ID, ref.URI, ref.CommitTime)
	return translate("insert", store.TableExternalRefs, err)
}

func (t *tx) MapExternalRef(ctx context.Context, ref store.ExternalRef) (*store.ExternalRef, error) {
	if err := t.writable("map", store.TableExternalRefs); err != nil {
		return nil, err
	}
	if ref.ID >= 0 {
		return nil, store.NewError("map", store.TableExternalRefs, store.ErrInvalidValue)
	}
	var id int64
	err := t.tx.GetPrimitive(ctx, &id, `INSERT INTO external_refs (`+externalRefColumns+`) VALUES ($1, $2, $3)
		ON CONFLICT (uri) DO NOTHING RETURNING id`,
		ref.ID, ref.URI, ref.CommitTime)
	switch {
	case err == nil:
		return &ref, nil
	case errors.Is(err, db.ErrNotFound):
		// nothing inserted, the statement waited for the committed mapping
		return t.GetExternalRefByURI(ctx, ref.URI)
	default:
		return nil, translate("map", store.TableExternalRefs, err)
	}
}

func (t *tx) GetExternalRef(ctx context.Context, id int64) (*store.ExternalRef, error) {
	var ref store.ExternalRef
	err := t.tx.Get(ctx, &ref, `SELECT `+externalRefColumns+` FROM external_refs WHERE id = $1`, id)
	if err != nil {
		return nil, translate("get", store.TableExternalRefs, err)
	}
	return &ref, nil
}

func (t *tx) GetExternalRefByURI(ctx context.Context, uri string) (*store.ExternalRef, error) {
	var ref store.ExternalRef
	err := t.tx.Get(ctx, &ref, `SELECT `+externalRefColumns+` FROM external_refs WHERE uri = $1`, uri)
	if err != nil {
		return nil, translate("get", store.TableExternalRefs, err)
	}
	return &ref, nil
}

func (t *tx) MinExternalRefID(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.GetPrimitive(ctx, &id, `SELECT COALESCE(MIN(id), 0) FROM external_refs`)
	return id, translate("min", store.TableExternalRefs, err)
}

func (t *tx) ListExternalRefs(ctx context.Context, fn func(store.ExternalRef) error) error {
	var refs []store.ExternalRef
	err := t.tx.Select(ctx, &refs, `SELECT `+externalRefColumns+` FROM external_refs ORDER BY id DESC`)
	if err != nil {
		return translate("list", store.TableExternalRefs, err)
	}
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ref); err != nil {
			return err
		}
	}
	return nil
}

type lockAreaRow struct {
	ID         string `db:"id"`
	UserID     string `db:"user_id"`
	BranchID   int32  `db:"branch_id"`
	BranchTime int64  `db:"branch_time"`
	ReadOnly   bool   `db:"read_only"`
}

func (r lockAreaRow) toLockArea() store.LockArea {
	return store.LockArea{
		ID:          r.ID,
		UserID:      r.UserID,
		BranchPoint: store.BranchPoint{BranchID: store.BranchID(r.BranchID), Time: r.BranchTime},
		ReadOnly:    r.ReadOnly,
	}
}

const lockAreaColumns = `id, user_id, branch_id, branch_time, read_only`

func (t *tx) InsertLockArea(ctx context.Context, area store.LockArea) error {
	if err := t.writable("insert", store.TableLockAreas); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO lock_areas (`+lockAreaColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		area.ID, area.UserID, area.BranchPoint.BranchID, area.BranchPoint.Time, area.ReadOnly)
	return translate("insert", store.TableLockAreas, err)
}

func (t *tx) LockAreaExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := t.tx.GetPrimitive(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM lock_areas WHERE id = $1)`, id)
	return exists, translate("get", store.TableLockAreas, err)
}

func (t *tx) GetLockArea(ctx context.Context, id string, forUpdate bool) (*store.LockArea, error) {
	query := `SELECT ` + lockAreaColumns + ` FROM lock_areas WHERE id = $1`
	if forUpdate {
		if err := t.writable("get", store.TableLockAreas); err != nil {
			return nil, err
		}
		query += ` FOR UPDATE`
	}
	var row lockAreaRow
	if err := t.tx.Get(ctx, &row, query, id); err != nil {
		return nil, translate("get", store.TableLockAreas, err)
	}
	area := row.toLockArea()
	return &area, nil
}

func (t *tx) UpdateLockArea(ctx context.Context, area store.LockArea) error {
	if err := t.writable("update", store.TableLockAreas); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `UPDATE lock_areas SET user_id = $2, branch_id = $3, branch_time = $4, read_only = $5
		WHERE id = $1`, area.ID, area.UserID, area.BranchPoint.BranchID, area.BranchPoint.Time, area.ReadOnly)
	if err != nil {
		return translate("update", store.TableLockAreas, err)
	}
	if res.RowsAffected() == 0 {
		return store.NewError("update", store.TableLockAreas, store.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteLockArea(ctx context.Context, id string) error {
	if err := t.writable("delete", store.TableLockAreas); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `DELETE FROM lock_areas WHERE id = $1`, id)
	if err != nil {
		return translate("delete", store.TableLockAreas, err)
	}
	if res.RowsAffected() == 0 {
		return store.NewError("delete", store.TableLockAreas, store.ErrNotFound)
	}
	return nil
}

func (t *tx) ListLockAreas(ctx context.Context, userIDPrefix string, fn func(store.LockArea) error) error {
	var rows []lockAreaRow
	err := t.tx.Select(ctx, &rows, `SELECT `+lockAreaColumns+` FROM lock_areas
		WHERE starts_with(user_id, $1) ORDER BY id`, userIDPrefix)
	if err != nil {
		return translate("list", store.TableLockAreas, err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row.toLockArea()); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetLockGrade(ctx context.Context, areaID string, id ident.ObjectID) (store.LockGrade, error) {
	var grade int16
	err := t.tx.GetPrimitive(ctx, &grade, `SELECT lock_grade FROM locks WHERE area_id = $1 AND object_id = $2`,
		areaID, id.String())
	if err != nil {
		err = translate("get", store.TableLocks, err)
		if isNotFound(err) {
			return store.LockNone, nil
		}
		return store.LockNone, err
	}
	return store.LockGrade(grade), nil
}

func (t *tx) InsertLock(ctx context.Context, areaID string, id ident.ObjectID, grade store.LockGrade) error {
	if err := t.writable("insert", store.TableLocks); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO locks (area_id, object_id, lock_grade) VALUES ($1, $2, $3)`,
		areaID, id.String(), int16(grade))
	return translate("insert", store.TableLocks, err)
}

func (t *tx) UpdateLock(ctx context.Context, areaID string, id ident.ObjectID, grade store.LockGrade) error {
	if err := t.writable("update", store.TableLocks); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `UPDATE locks SET lock_grade = $3 WHERE area_id = $1 AND object_id = $2`,
		areaID, id.String(), int16(grade))
	if err != nil {
		return translate("update", store.TableLocks, err)
	}
	if res.RowsAffected() == 0 {
		return store.NewError("update", store.TableLocks, store.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteLock(ctx context.Context, areaID string, id ident.ObjectID) error {
	if err := t.writable("delete", store.TableLocks); err != nil {
		return err
	}
	res, err := t.tx.Exec(ctx, `DELETE FROM locks WHERE area_id = $1 AND object_id = $2`, areaID, id.String())
	if err != nil {
		return translate("delete", store.TableLocks, err)
	}
	if res.RowsAffected() == 0 {
		return store.NewError("delete", store.TableLocks, store.ErrNotFound)
	}
	return nil
}

func (t *tx) DeleteLocks(ctx context.Context, areaID string) (int64, error) {
	if err := t.writable("delete", store.TableLocks); err != nil {
		return 0, err
	}
	res, err := t.tx.Exec(ctx, `DELETE FROM locks WHERE area_id = $1`, areaID)
	if err != nil {
		return 0, translate("delete", store.TableLocks, err)
	}
	return res.RowsAffected(), nil
}

func (t *tx) ListLocks(ctx context.Context, areaID string, fn func(ident.ObjectID, store.LockGrade) error) error {
	type lockRow struct {
		ObjectID  string `db:"object_id"`
		LockGrade int16  `db:"lock_grade"`
	}
	var rows []lockRow
	err := t.tx.Select(ctx, &rows, `SELECT object_id, lock_grade FROM locks WHERE area_id = $1 ORDER BY object_id`, areaID)
	if err != nil {
		return translate("list", store.TableLocks, err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := t.parser.CreateID(row.ObjectID)
		if err != nil {
			return store.NewError("list", store.TableLocks, err)
		}
		if err := fn(id, store.LockGrade(row.LockGrade)); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) MaxBranchID(ctx context.Context) (store.BranchID, error) {
	var id int32
	err := t.tx.GetPrimitive(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM branches`)
	return store.BranchID(id), translate("max", store.TableBranches, err)
}

func (t *tx) MinBranchID(ctx context.Context) (store.BranchID, error) {
	var id int32
	err := t.tx.GetPrimitive(ctx, &id, `SELECT COALESCE(MIN(id), 0) FROM branches WHERE id < 0`)
	return store.BranchID(id), translate("min", store.TableBranches, err)
}

func (t *tx) MaxCommitTime(ctx context.Context, nonLocal bool) (int64, error) {
	query := `SELECT COALESCE(MAX(commit_time), 0) FROM commit_infos`
	if nonLocal {
		query += ` WHERE branch_id >= 0`
	}
	var ts int64
	err := t.tx.GetPrimitive(ctx, &ts, query)
	return ts, translate("max", store.TableCommitInfos, err)
}

func (t *tx) MaxObjectSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.GetPrimitive(ctx, &seq, `SELECT COALESCE(MAX(object_seq), 0) FROM revisions
		WHERE branch_id >= 0 AND object_seq >= 0`)
	return seq, translate("max", store.TableRevisions, err)
}

func (t *tx) MinLocalObjectSeq(ctx context.Context, above int64) (int64, bool, error) {
	var seq *int64
	err := t.tx.GetPrimitive(ctx, &seq, `SELECT MIN(object_seq) FROM revisions
		WHERE branch_id < 0 AND object_seq > $1`, above)
	if err != nil {
		return 0, false, translate("min", store.TableRevisions, err)
	}
	if seq == nil {
		return 0, false, nil
	}
	return *seq, true, nil
}

func (t *tx) QueryRows(ctx context.Context, query string, args ...interface{}) (*store.Rows, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, translate("query", "", err)
	}
	defer rows.Close()
	res := &store.Rows{}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, translate("query", "", err)
		}
		res.Values = append(res.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, translate("query", "", fmt.Errorf("read rows: %w", err))
	}
	return res, nil
}
