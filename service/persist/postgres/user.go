package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mikeydub/go-activity/service/persist"
)

// UserRepository represents a user repository in the postgres database
type UserRepository struct {
	db *sql.DB

	createStmt        *sql.Stmt
	getByIDStmt       *sql.Stmt
	getByUsernameStmt *sql.Stmt
	getMetaStmt       *sql.Stmt
	upsertMetaStmt    *sql.Stmt
	deleteMetaStmt    *sql.Stmt
}

// NewUserRepository creates a new postgres repository for interacting with users
func NewUserRepository(db *sql.DB) *UserRepository {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	createStmt, err := db.PrepareContext(ctx, `INSERT INTO users (id, username, username_idempotent, display_name, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id;`)
	checkNoErr(err)

	getByIDStmt, err := db.PrepareContext(ctx, `SELECT id, username, display_name, created_at FROM users WHERE id = $1;`)
	checkNoErr(err)

	getByUsernameStmt, err := db.PrepareContext(ctx, `SELECT id, username, display_name, created_at FROM users WHERE username_idempotent = $1;`)
	checkNoErr(err)

	getMetaStmt, err := db.PrepareContext(ctx, `SELECT meta_codec, meta_value FROM user_meta WHERE user_id = $1 AND meta_key = $2;`)
	checkNoErr(err)

	upsertMetaStmt, err := db.PrepareContext(ctx, `INSERT INTO user_meta (user_id, meta_key, meta_codec, meta_value) VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_codec = EXCLUDED.meta_codec, meta_value = EXCLUDED.meta_value;`)
	checkNoErr(err)

	deleteMetaStmt, err := db.PrepareContext(ctx, `DELETE FROM user_meta WHERE user_id = $1 AND meta_key = ANY($2);`)
	checkNoErr(err)

	return &UserRepository{
		db:                db,
		createStmt:        createStmt,
		getByIDStmt:       getByIDStmt,
		getByUsernameStmt: getByUsernameStmt,
		getMetaStmt:       getMetaStmt,
		upsertMetaStmt:    upsertMetaStmt,
		deleteMetaStmt:    deleteMetaStmt,
	}
}

func (u *UserRepository) CreateUser(ctx context.Context, user persist.User) (persist.DBID, error) {
	if user.ID == "" {
		user.ID = persist.GenerateID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var id persist.DBID
	err := u.createStmt.QueryRowContext(ctx, user.ID, user.Username, strings.ToLower(user.Username), user.DisplayName, user.CreatedAt).Scan(&id)
	return id, err
}

func (u *UserRepository) GetUserByID(ctx context.Context, id persist.DBID) (persist.User, error) {
	var user persist.User
	err := u.getByIDStmt.QueryRowContext(ctx, id).Scan(&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.User{}, persist.ErrUserNotFoundByID{ID: id}
	}
	return user, err
}

func (u *UserRepository) GetUserByUsername(ctx context.Context, username string) (persist.User, error) {
	var user persist.User
	err := u.getByUsernameStmt.QueryRowContext(ctx, strings.ToLower(username)).Scan(&user.ID, &user.Username, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.User{}, persist.ErrUserNotFoundByUsername{Username: username}
	}
	return user, err
}

func (u *UserRepository) GetUserMeta(ctx context.Context, userID persist.DBID, key string) (persist.MetaValue, error) {
	var codec, payload string
	err := u.getMetaStmt.QueryRowContext(ctx, userID, key).Scan(&codec, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.MetaValue{}, persist.ErrMetaNotFoundByKey{OwnerID: userID, Key: key}
	}
	if err != nil {
		return persist.MetaValue{}, err
	}
	return persist.DecodeMeta(codec, payload)
}

func (u *UserRepository) SetUserMeta(ctx context.Context, userID persist.DBID, values map[string]persist.MetaValue) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsert := tx.StmtContext(ctx, u.upsertMetaStmt)
	for key, value := range values {
		codec, payload := value.Encode()
		if _, err := upsert.ExecContext(ctx, userID, key, codec, payload); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (u *UserRepository) DeleteUserMeta(ctx context.Context, userID persist.DBID, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := u.deleteMetaStmt.ExecContext(ctx, userID, pq.Array(keys))
	return err
}
