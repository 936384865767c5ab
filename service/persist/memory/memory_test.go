package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/service/redis"
)

func TestActivityRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("rolls back every write of a failed transaction", func(t *testing.T) {
		r := NewActivityRepository()
		kept, err := r.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now})
		require.NoError(t, err)

		boom := errors.New("boom")
		err = r.WithTx(ctx, func(tx persist.ActivityStore) error {
			if _, err := tx.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now}); err != nil {
				return err
			}
			if err := tx.SetMeta(ctx, kept, "k", persist.StringMeta("v")); err != nil {
				return err
			}
			if _, err := tx.DeleteActivities(ctx, persist.ActivityFilter{IDs: []persist.DBID{kept}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		all, err := r.FindActivities(ctx, persist.ActivityQuery{ShowHidden: true})
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, kept, all[0].ID)

		_, err = r.GetMeta(ctx, kept, "k")
		assert.ErrorIs(t, err, persist.ErrNotFound)
	})

	t.Run("a rolled back transaction keeps writes made outside it", func(t *testing.T) {
		r := NewActivityRepository()
		root, err := r.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now})
		require.NoError(t, err)

		var outside persist.DBID
		err = r.WithTx(ctx, func(tx persist.ActivityStore) error {
			if _, err := tx.DeleteActivities(ctx, persist.ActivityFilter{IDs: []persist.DBID{root}}); err != nil {
				return err
			}
			id, err := r.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now})
			if err != nil {
				return err
			}
			outside = id
			if err := r.SetMeta(ctx, root, "k", persist.StringMeta("v")); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.Error(t, err)

		_, err = r.GetActivity(ctx, outside)
		assert.NoError(t, err)
		_, err = r.GetActivity(ctx, root)
		assert.NoError(t, err)
		v, err := r.GetMeta(ctx, root, "k")
		require.NoError(t, err)
		assert.Equal(t, persist.StringMeta("v"), v)
	})

	t.Run("a committed transaction keeps writes made outside it", func(t *testing.T) {
		r := NewActivityRepository()
		var inside, outside persist.DBID
		err := r.WithTx(ctx, func(tx persist.ActivityStore) error {
			var err error
			inside, err = tx.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now})
			if err != nil {
				return err
			}
			outside, err = r.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now})
			return err
		})
		require.NoError(t, err)

		all, err := r.FindActivities(ctx, persist.ActivityQuery{ShowHidden: true})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.ElementsMatch(t, []persist.DBID{inside, outside}, []persist.DBID{all[0].ID, all[1].ID})
	})

	t.Run("orders newest first and pages", func(t *testing.T) {
		r := NewActivityRepository()
		var ids []persist.DBID
		for i := 0; i < 3; i++ {
			id, err := r.InsertActivity(ctx, persist.Activity{Type: persist.ActivityTypeUpdate, RecordedAt: now.Add(time.Duration(i) * time.Minute)})
			require.NoError(t, err)
			ids = append(ids, id)
		}

		page, err := r.FindActivities(ctx, persist.ActivityQuery{Page: 1, PerPage: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		page, err = r.FindActivities(ctx, persist.ActivityQuery{Sort: persist.SortAsc, Max: 1})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)

		last, err := r.LastUpdated(ctx)
		require.NoError(t, err)
		assert.True(t, now.Add(2*time.Minute).Equal(last))
	})

	t.Run("hides a member's activity", func(t *testing.T) {
		r := NewActivityRepository()
		_, err := r.InsertActivity(ctx, persist.Activity{UserID: "spammer", Type: persist.ActivityTypeUpdate, RecordedAt: now})
		require.NoError(t, err)

		require.NoError(t, r.HideAllForUser(ctx, "spammer"))

		visible, err := r.FindActivities(ctx, persist.ActivityQuery{})
		require.NoError(t, err)
		assert.Empty(t, visible)
	})

	t.Run("rejects an empty delete filter", func(t *testing.T) {
		r := NewActivityRepository()
		_, err := r.DeleteActivities(ctx, persist.ActivityFilter{})
		assert.ErrorIs(t, err, persist.ErrEmptyFilter)
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	r := NewUserRepository()

	id, err := r.CreateUser(ctx, persist.User{Username: "Jane"})
	require.NoError(t, err)

	u, err := r.GetUserByUsername(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)

	require.NoError(t, r.SetUserMeta(ctx, id, map[string]persist.MetaValue{"a": persist.StringMeta("1")}))
	v, err := r.GetUserMeta(ctx, id, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())

	require.NoError(t, r.DeleteUserMeta(ctx, id, "a"))
	_, err = r.GetUserMeta(ctx, id, "a")
	assert.ErrorIs(t, err, persist.ErrNotFound)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	b, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), b)

	set, err := c.SetNX(ctx, "k", []byte("again"), time.Minute)
	require.NoError(t, err)
	assert.False(t, set)

	now = now.Add(2 * time.Minute)
	_, err = c.Get(ctx, "k")
	assert.ErrorAs(t, err, &redis.ErrKeyNotFound{})

	set, err = c.SetNX(ctx, "k", []byte("again"), time.Minute)
	require.NoError(t, err)
	assert.True(t, set)
}

func TestLocker(t *testing.T) {
	l := NewLocker()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "k")
	require.NoError(t, err)
	unlock()
}
