package persist

import (
	"context"
	"time"
)

// ActivityStore is the tabular activity store and its meta table.
type ActivityStore interface {
	GetActivity(ctx context.Context, id DBID) (Activity, error)
	FindActivities(ctx context.Context, q ActivityQuery) ([]Activity, error)
	InsertActivity(ctx context.Context, a Activity) (DBID, error)
	UpdateActivity(ctx context.Context, a Activity) error
	DeleteActivities(ctx context.Context, f ActivityFilter) ([]DBID, error)
	HideAllForUser(ctx context.Context, userID DBID) error
	LastUpdated(ctx context.Context) (time.Time, error)
	CommentRootIDs(ctx context.Context) ([]DBID, error)

	GetMeta(ctx context.Context, activityID DBID, key string) (MetaValue, error)
	SetMeta(ctx context.Context, activityID DBID, key string, value MetaValue) error
	// DeleteMeta deletes the given keys, or every key of the activity when none are given
	DeleteMeta(ctx context.Context, activityID DBID, keys ...string) error

	// WithTx runs fn against a store whose writes commit together or not at all.
	// Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(tx ActivityStore) error) error
}

// UserStore is the member lookup and the per-user key-value attribute store.
type UserStore interface {
	GetUserByID(ctx context.Context, id DBID) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, u User) (DBID, error)

	GetUserMeta(ctx context.Context, userID DBID, key string) (MetaValue, error)
	// SetUserMeta writes every value in one atomic step
	SetUserMeta(ctx context.Context, userID DBID, values map[string]MetaValue) error
	DeleteUserMeta(ctx context.Context, userID DBID, keys ...string) error
}
