// Package memory holds in-process implementations of the persistence interfaces, used for local
// runs (STORE=memory) and unit tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikeydub/go-activity/service/persist"
)

type metaKey struct {
	owner persist.DBID
	key   string
}

type activityState struct {
	activities map[persist.DBID]persist.Activity
	meta       map[metaKey]persist.MetaValue
}

func (s activityState) clone() activityState {
	c := activityState{
		activities: make(map[persist.DBID]persist.Activity, len(s.activities)),
		meta:       make(map[metaKey]persist.MetaValue, len(s.meta)),
	}
	for k, v := range s.activities {
		c.activities[k] = v
	}
	for k, v := range s.meta {
		c.meta[k] = v
	}
	return c
}

// changeSet records the keys a transaction wrote.
type changeSet struct {
	activities map[persist.DBID]bool
	meta       map[metaKey]bool
}

// ActivityRepository stores activities and their meta in maps.
// Transactions are serialized and work on a private copy of the state. Commit copies the keys the
// transaction wrote back into the shared state; rollback drops the copy.
type ActivityRepository struct {
	mu      *sync.Mutex
	txMu    *sync.Mutex
	state   *activityState
	changes *changeSet
}

func NewActivityRepository() *ActivityRepository {
	return &ActivityRepository{
		mu:   &sync.Mutex{},
		txMu: &sync.Mutex{},
		state: &activityState{
			activities: map[persist.DBID]persist.Activity{},
			meta:       map[metaKey]persist.MetaValue{},
		},
	}
}

func (r *ActivityRepository) WithTx(ctx context.Context, fn func(tx persist.ActivityStore) error) error {
	if r.changes != nil {
		return fn(r)
	}

	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	working := r.state.clone()
	r.mu.Unlock()

	tx := &ActivityRepository{
		mu:      &sync.Mutex{},
		txMu:    r.txMu,
		state:   &working,
		changes: &changeSet{activities: map[persist.DBID]bool{}, meta: map[metaKey]bool{}},
	}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range tx.changes.activities {
		if a, ok := working.activities[id]; ok {
			r.state.activities[id] = a
			r.touchActivity(id)
		} else {
			delete(r.state.activities, id)
			r.touchActivity(id)
		}
	}
	for k := range tx.changes.meta {
		if v, ok := working.meta[k]; ok {
			r.state.meta[k] = v
		} else {
			delete(r.state.meta, k)
			r.touchMeta(k)
		}
	}
	return nil
}

func (r *ActivityRepository) touchActivity(id persist.DBID) {
	if r.changes != nil {
		r.changes.activities[id] = true
	}
}

func (r *ActivityRepository) touchMeta(k metaKey) {
	if r.changes != nil {
		r.changes.meta[k] = true
	}
}

func (r *ActivityRepository) GetActivity(ctx context.Context, id persist.DBID) (persist.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.state.activities[id]
	if !ok {
		return persist.Activity{}, persist.ErrActivityNotFoundByID{ID: id}
	}
	return a, nil
}

func (r *ActivityRepository) FindActivities(ctx context.Context, q persist.ActivityQuery) ([]persist.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]persist.Activity, 0)
	for _, a := range r.state.activities {
		if !q.Filter.Matches(a) {
			continue
		}
		if !q.ShowHidden && a.HideSitewide {
			continue
		}
		if len(q.Exclude) > 0 && containsID(q.Exclude, a.ID) {
			continue
		}
		if q.SearchTerms != "" && !strings.Contains(strings.ToLower(a.Content), strings.ToLower(q.SearchTerms)) {
			continue
		}
		result = append(result, a)
	}

	asc := q.Order() == persist.SortAsc
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.RecordedAt.Equal(b.RecordedAt) {
			if asc {
				return a.RecordedAt.Before(b.RecordedAt)
			}
			return a.RecordedAt.After(b.RecordedAt)
		}
		if asc {
			return a.ID < b.ID
		}
		return a.ID > b.ID
	})

	offset, limit := q.Bounds()
	if offset >= len(result) {
		return []persist.Activity{}, nil
	}
	result = result[offset:]
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (r *ActivityRepository) InsertActivity(ctx context.Context, a persist.Activity) (persist.DBID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.ID = persist.GenerateID()
	r.state.activities[a.ID] = a
	r.touchActivity(a.ID)
	return a.ID, nil
}

func (r *ActivityRepository) UpdateActivity(ctx context.Context, a persist.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.state.activities[a.ID]; !ok {
		return persist.ErrActivityNotFoundByID{ID: a.ID}
	}
	r.state.activities[a.ID] = a
	r.touchActivity(a.ID)
	return nil
}

func (r *ActivityRepository) DeleteActivities(ctx context.Context, f persist.ActivityFilter) ([]persist.DBID, error) {
	if f.IsEmpty() {
		return nil, persist.ErrEmptyFilter
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted []persist.DBID
	for id, a := range r.state.activities {
		if f.Matches(a) {
			deleted = append(deleted, id)
			delete(r.state.activities, id)
			r.touchActivity(id)
		}
	}
	sort.Slice(deleted, func(i, j int) bool { return deleted[i] < deleted[j] })
	return deleted, nil
}

func (r *ActivityRepository) HideAllForUser(ctx context.Context, userID persist.DBID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.state.activities {
		if a.UserID == userID {
			a.HideSitewide = true
			r.state.activities[id] = a
			r.touchActivity(id)
		}
	}
	return nil
}

func (r *ActivityRepository) LastUpdated(ctx context.Context) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last time.Time
	for _, a := range r.state.activities {
		if a.RecordedAt.After(last) {
			last = a.RecordedAt
		}
	}
	return last, nil
}

func (r *ActivityRepository) GetMeta(ctx context.Context, activityID persist.DBID, key string) (persist.MetaValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.state.meta[metaKey{activityID, key}]
	if !ok {
		return persist.MetaValue{}, persist.ErrMetaNotFoundByKey{OwnerID: activityID, Key: key}
	}
	return v, nil
}

func (r *ActivityRepository) SetMeta(ctx context.Context, activityID persist.DBID, key string, value persist.MetaValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := metaKey{activityID, key}
	r.state.meta[k] = value
	r.touchMeta(k)
	return nil
}

func (r *ActivityRepository) DeleteMeta(ctx context.Context, activityID persist.DBID, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.state.meta {
		if k.owner != activityID {
			continue
		}
		if len(keys) == 0 || containsString(keys, k.key) {
			delete(r.state.meta, k)
			r.touchMeta(k)
		}
	}
	return nil
}

// CommentRootIDs lists every activity that has at least one comment.
func (r *ActivityRepository) CommentRootIDs(ctx context.Context) ([]persist.DBID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[persist.DBID]bool{}
	var roots []persist.DBID
	for _, a := range r.state.activities {
		if a.IsComment() && a.ItemID != "" && !seen[a.ItemID] {
			seen[a.ItemID] = true
			roots = append(roots, a.ItemID)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots, nil
}

func containsID(ids []persist.DBID, id persist.DBID) bool {
	for _, it := range ids {
		if it == id {
			return true
		}
	}
	return false
}

func containsString(s []string, str string) bool {
	for _, it := range s {
		if it == str {
			return true
		}
	}
	return false
}
