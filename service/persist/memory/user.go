package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mikeydub/go-activity/service/persist"
)

// UserRepository keeps members and their attributes in maps.
type UserRepository struct {
	mu         sync.Mutex
	users      map[persist.DBID]persist.User
	byUsername map[string]persist.DBID
	meta       map[metaKey]persist.MetaValue
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      map[persist.DBID]persist.User{},
		byUsername: map[string]persist.DBID{},
		meta:       map[metaKey]persist.MetaValue{},
	}
}

func (r *UserRepository) CreateUser(ctx context.Context, u persist.User) (persist.DBID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == "" {
		u.ID = persist.GenerateID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	r.users[u.ID] = u
	r.byUsername[strings.ToLower(u.Username)] = u.ID
	return u.ID, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id persist.DBID) (persist.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return persist.User{}, persist.ErrUserNotFoundByID{ID: id}
	}
	return u, nil
}

func (r *UserRepository) GetUserByUsername(ctx context.Context, username string) (persist.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byUsername[strings.ToLower(username)]
	if !ok {
		return persist.User{}, persist.ErrUserNotFoundByUsername{Username: username}
	}
	return r.users[id], nil
}

func (r *UserRepository) GetUserMeta(ctx context.Context, userID persist.DBID, key string) (persist.MetaValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.meta[metaKey{userID, key}]
	if !ok {
		return persist.MetaValue{}, persist.ErrMetaNotFoundByKey{OwnerID: userID, Key: key}
	}
	return v, nil
}

func (r *UserRepository) SetUserMeta(ctx context.Context, userID persist.DBID, values map[string]persist.MetaValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range values {
		r.meta[metaKey{userID, k}] = v
	}
	return nil
}

func (r *UserRepository) DeleteUserMeta(ctx context.Context, userID persist.DBID, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.meta, metaKey{userID, k})
	}
	return nil
}
