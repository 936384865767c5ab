package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/service/persist/memory"
)

type recordingMentions struct {
	mu    sync.Mutex
	calls map[mention.Action][]persist.DBID
}

func (r *recordingMentions) AdjustForActivity(ctx context.Context, a persist.Activity, action mention.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[mention.Action][]persist.DBID{}
	}
	r.calls[action] = append(r.calls[action], a.ID)
	return nil
}

type countingCache struct {
	*memory.Cache
	mu      sync.Mutex
	gets    int
	deletes int
}

func (c *countingCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	c.gets++
	c.mu.Unlock()
	return c.Cache.Get(ctx, key)
}

func (c *countingCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	return c.Cache.Delete(ctx, key)
}

type fixture struct {
	svc      *Service
	store    *memory.ActivityRepository
	cache    *countingCache
	mentions *recordingMentions
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewActivityRepository()
	cache := &countingCache{Cache: memory.NewCache()}
	mentions := &recordingMentions{}
	return &fixture{
		svc:      NewService(store, mentions, cache),
		store:    store,
		cache:    cache,
		mentions: mentions,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fixture) update(t *testing.T, userID persist.DBID, content string) persist.DBID {
	t.Helper()
	id, err := f.svc.Save(context.Background(), persist.Activity{
		UserID:     userID,
		Type:       persist.ActivityTypeUpdate,
		Content:    content,
		RecordedAt: f.tick(),
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) comment(t *testing.T, rootID, parentID persist.DBID, content string) persist.DBID {
	t.Helper()
	id, err := f.svc.Save(context.Background(), persist.Activity{
		UserID:          "commenter",
		Type:            persist.ActivityTypeComment,
		Content:         content,
		ItemID:          rootID,
		SecondaryItemID: parentID,
		RecordedAt:      f.tick(),
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) tree(t *testing.T, rootID persist.DBID) []persist.CommentNode {
	t.Helper()
	tree, err := f.svc.CommentTree(context.Background(), rootID)
	require.NoError(t, err)
	return tree
}

func nodeIDs(tree []persist.CommentNode) []persist.DBID {
	ids := make([]persist.DBID, len(tree))
	for i, n := range tree {
		ids[i] = n.ID
	}
	return ids
}
