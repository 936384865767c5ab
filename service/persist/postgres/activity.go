package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mikeydub/go-activity/service/persist"
)

const activityColumns = `id, user_id, component, type, action, content, primary_link, item_id, secondary_item_id, recorded_at, hide_sitewide`

// ActivityRepository represents the activity and activity meta tables in the postgres database
type ActivityRepository struct {
	db *sql.DB
	tx *sql.Tx
	q  dbtx

	getStmt        *sql.Stmt
	createStmt     *sql.Stmt
	updateStmt     *sql.Stmt
	hideForUser    *sql.Stmt
	lastUpdated    *sql.Stmt
	commentRoots   *sql.Stmt
	getMetaStmt    *sql.Stmt
	upsertMetaStmt *sql.Stmt
	deleteMetaStmt *sql.Stmt
}

// NewActivityRepository creates a new postgres repository for interacting with activities
func NewActivityRepository(db *sql.DB) *ActivityRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	getStmt, err := db.PrepareContext(ctx, `SELECT `+activityColumns+` FROM activities WHERE id = $1;`)
	checkNoErr(err)

	createStmt, err := db.PrepareContext(ctx, `INSERT INTO activities (`+activityColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id;`)
	checkNoErr(err)

	updateStmt, err := db.PrepareContext(ctx, `UPDATE activities SET user_id = $2, component = $3, type = $4, action = $5, content = $6, primary_link = $7, item_id = $8, secondary_item_id = $9, recorded_at = $10, hide_sitewide = $11 WHERE id = $1;`)
	checkNoErr(err)

	hideForUser, err := db.PrepareContext(ctx, `UPDATE activities SET hide_sitewide = true WHERE user_id = $1;`)
	checkNoErr(err)

	lastUpdated, err := db.PrepareContext(ctx, `SELECT coalesce(max(recorded_at), 'epoch'::timestamptz) FROM activities;`)
	checkNoErr(err)

	commentRoots, err := db.PrepareContext(ctx, `SELECT DISTINCT item_id FROM activities WHERE type = $1 AND item_id IS NOT NULL ORDER BY item_id;`)
	checkNoErr(err)

	getMetaStmt, err := db.PrepareContext(ctx, `SELECT meta_codec, meta_value FROM activity_meta WHERE activity_id = $1 AND meta_key = $2;`)
	checkNoErr(err)

	upsertMetaStmt, err := db.PrepareContext(ctx, `INSERT INTO activity_meta (activity_id, meta_key, meta_codec, meta_value) VALUES ($1, $2, $3, $4)
ON CONFLICT (activity_id, meta_key) DO UPDATE SET meta_codec = EXCLUDED.meta_codec, meta_value = EXCLUDED.meta_value;`)
	checkNoErr(err)

	deleteMetaStmt, err := db.PrepareContext(ctx, `DELETE FROM activity_meta WHERE activity_id = $1 AND (cardinality($2::varchar[]) = 0 OR meta_key = ANY($2));`)
	checkNoErr(err)

	return &ActivityRepository{
		db:             db,
		q:              db,
		getStmt:        getStmt,
		createStmt:     createStmt,
		updateStmt:     updateStmt,
		hideForUser:    hideForUser,
		lastUpdated:    lastUpdated,
		commentRoots:   commentRoots,
		getMetaStmt:    getMetaStmt,
		upsertMetaStmt: upsertMetaStmt,
		deleteMetaStmt: deleteMetaStmt,
	}
}

// stmt binds a prepared statement to the running transaction, if any
func (r *ActivityRepository) stmt(ctx context.Context, s *sql.Stmt) *sql.Stmt {
	if r.tx != nil {
		return r.tx.StmtContext(ctx, s)
	}
	return s
}

func (r *ActivityRepository) WithTx(ctx context.Context, fn func(tx persist.ActivityStore) error) error {
	if r.tx != nil {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	txRepo := *r
	txRepo.tx = tx
	txRepo.q = tx

	if err := fn(&txRepo); err != nil {
		return err
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (persist.Activity, error) {
	var a persist.Activity
	var userID, itemID, secondaryItemID sql.NullString
	err := row.Scan(&a.ID, &userID, &a.Component, &a.Type, &a.Action, &a.Content, &a.PrimaryLink, &itemID, &secondaryItemID, &a.RecordedAt, &a.HideSitewide)
	if err != nil {
		return persist.Activity{}, err
	}
	a.UserID = persist.DBID(userID.String)
	a.ItemID = persist.DBID(itemID.String)
	a.SecondaryItemID = persist.DBID(secondaryItemID.String)
	a.RecordedAt = a.RecordedAt.UTC()
	return a, nil
}

func (r *ActivityRepository) GetActivity(ctx context.Context, id persist.DBID) (persist.Activity, error) {
	a, err := scanActivity(r.stmt(ctx, r.getStmt).QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return persist.Activity{}, persist.ErrActivityNotFoundByID{ID: id}
	}
	return a, err
}

func (r *ActivityRepository) FindActivities(ctx context.Context, q persist.ActivityQuery) ([]persist.Activity, error) {
	b := &queryBuilder{}
	b.filter(q.Filter)

	if !q.ShowHidden {
		b.where("hide_sitewide = false")
	}
	if len(q.Exclude) > 0 {
		b.where("NOT (id = ANY(%s))", pq.Array(persist.DBIDsToStrings(q.Exclude)))
	}
	if q.SearchTerms != "" {
		b.where("content ILIKE '%%' || %s || '%%'", q.SearchTerms)
	}

	order := "DESC"
	if q.Order() == persist.SortAsc {
		order = "ASC"
	}

	query := fmt.Sprintf("SELECT %s FROM activities %s ORDER BY recorded_at %s, id %s", activityColumns, b.whereClause(), order, order)

	offset, limit := q.Bounds()
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %s", b.arg(limit))
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %s", b.arg(offset))
	}

	rows, err := r.q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]persist.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}

	return result, rows.Err()
}

func (r *ActivityRepository) InsertActivity(ctx context.Context, a persist.Activity) (persist.DBID, error) {
	var id persist.DBID
	err := r.stmt(ctx, r.createStmt).QueryRowContext(ctx,
		persist.GenerateID(), nullString(a.UserID.String()), a.Component, a.Type, a.Action, a.Content, a.PrimaryLink,
		nullString(a.ItemID.String()), nullString(a.SecondaryItemID.String()), a.RecordedAt, a.HideSitewide,
	).Scan(&id)
	return id, err
}

func (r *ActivityRepository) UpdateActivity(ctx context.Context, a persist.Activity) error {
	res, err := r.stmt(ctx, r.updateStmt).ExecContext(ctx,
		a.ID, nullString(a.UserID.String()), a.Component, a.Type, a.Action, a.Content, a.PrimaryLink,
		nullString(a.ItemID.String()), nullString(a.SecondaryItemID.String()), a.RecordedAt, a.HideSitewide,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return persist.ErrActivityNotFoundByID{ID: a.ID}
	}
	return nil
}

func (r *ActivityRepository) DeleteActivities(ctx context.Context, f persist.ActivityFilter) ([]persist.DBID, error) {
	if f.IsEmpty() {
		return nil, persist.ErrEmptyFilter
	}

	b := &queryBuilder{}
	b.filter(f)

	rows, err := r.q.QueryContext(ctx, fmt.Sprintf("DELETE FROM activities %s RETURNING id", b.whereClause()), b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deleted []persist.DBID
	for rows.Next() {
		var id persist.DBID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		deleted = append(deleted, id)
	}

	return deleted, rows.Err()
}

func (r *ActivityRepository) HideAllForUser(ctx context.Context, userID persist.DBID) error {
	_, err := r.stmt(ctx, r.hideForUser).ExecContext(ctx, userID)
	return err
}

func (r *ActivityRepository) LastUpdated(ctx context.Context) (time.Time, error) {
	var last time.Time
	err := r.stmt(ctx, r.lastUpdated).QueryRowContext(ctx).Scan(&last)
	if err != nil {
		return time.Time{}, err
	}
	if last.Equal(time.Unix(0, 0)) {
		return time.Time{}, nil
	}
	return last.UTC(), nil
}

func (r *ActivityRepository) CommentRootIDs(ctx context.Context) ([]persist.DBID, error) {
	rows, err := r.stmt(ctx, r.commentRoots).QueryContext(ctx, persist.ActivityTypeComment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roots []persist.DBID
	for rows.Next() {
		var id persist.DBID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		roots = append(roots, id)
	}
	return roots, rows.Err()
}

func (r *ActivityRepository) GetMeta(ctx context.Context, activityID persist.DBID, key string) (persist.MetaValue, error) {
	var codec, payload string
	err := r.stmt(ctx, r.getMetaStmt).QueryRowContext(ctx, activityID, key).Scan(&codec, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.MetaValue{}, persist.ErrMetaNotFoundByKey{OwnerID: activityID, Key: key}
	}
	if err != nil {
		return persist.MetaValue{}, err
	}
	return persist.DecodeMeta(codec, payload)
}

func (r *ActivityRepository) SetMeta(ctx context.Context, activityID persist.DBID, key string, value persist.MetaValue) error {
	codec, payload := value.Encode()
	_, err := r.stmt(ctx, r.upsertMetaStmt).ExecContext(ctx, activityID, key, codec, payload)
	return err
}

func (r *ActivityRepository) DeleteMeta(ctx context.Context, activityID persist.DBID, keys ...string) error {
	if keys == nil {
		keys = []string{}
	}
	_, err := r.stmt(ctx, r.deleteMetaStmt).ExecContext(ctx, activityID, pq.Array(keys))
	return err
}

// queryBuilder accumulates WHERE conditions and their positional arguments
type queryBuilder struct {
	conditions []string
	args       []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// where adds a condition; each %s in format is replaced by a placeholder for the matching arg
func (b *queryBuilder) where(format string, args ...any) {
	placeholders := make([]any, len(args))
	for i, a := range args {
		placeholders[i] = b.arg(a)
	}
	b.conditions = append(b.conditions, fmt.Sprintf(format, placeholders...))
}

func (b *queryBuilder) whereClause() string {
	if len(b.conditions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.conditions, " AND ")
}

func (b *queryBuilder) filter(f persist.ActivityFilter) {
	if len(f.IDs) > 0 {
		b.where("id = ANY(%s)", pq.Array(persist.DBIDsToStrings(f.IDs)))
	}
	if len(f.UserIDs) > 0 {
		b.where("user_id = ANY(%s)", pq.Array(persist.DBIDsToStrings(f.UserIDs)))
	}
	if len(f.Components) > 0 {
		b.where("component = ANY(%s)", pq.Array(f.Components))
	}
	if len(f.Types) > 0 {
		b.where("type = ANY(%s)", pq.Array(f.Types))
	}
	if len(f.ItemIDs) > 0 {
		b.where("item_id = ANY(%s)", pq.Array(persist.DBIDsToStrings(f.ItemIDs)))
	}
	if len(f.SecondaryItemIDs) > 0 {
		b.where("secondary_item_id = ANY(%s)", pq.Array(persist.DBIDsToStrings(f.SecondaryItemIDs)))
	}
	if f.Action != "" {
		b.where("action = %s", f.Action)
	}
	if f.Content != "" {
		b.where("content = %s", f.Content)
	}
	if f.PrimaryLink != "" {
		b.where("primary_link = %s", f.PrimaryLink)
	}
	if f.RecordedAt != nil {
		b.where("recorded_at = %s", *f.RecordedAt)
	}
	if f.HideSitewide != nil {
		b.where("hide_sitewide = %s", *f.HideSitewide)
	}
}
