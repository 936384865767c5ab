package activity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/util"
)

func TestRebuildCommentTree(t *testing.T) {
	ctx := context.Background()

	t.Run("orders parents before children and siblings oldest first", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		c1 := f.comment(t, root, root, "first")
		c2 := f.comment(t, root, root, "second")
		c1a := f.comment(t, root, c1, "reply to first")
		c1a1 := f.comment(t, root, c1a, "reply to reply")
		c2a := f.comment(t, root, c2, "reply to second")

		tree := f.tree(t, root)
		assert.Equal(t, []persist.CommentNode{
			{ID: c1, ParentID: root, Depth: 1},
			{ID: c1a, ParentID: c1, Depth: 2},
			{ID: c1a1, ParentID: c1a, Depth: 3},
			{ID: c2, ParentID: root, Depth: 1},
			{ID: c2a, ParentID: c2, Depth: 2},
		}, tree)
	})

	t.Run("leaves out comments that never reach the root", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		c1 := f.comment(t, root, root, "first")
		f.comment(t, root, "missing-parent", "orphan")

		assert.Equal(t, []persist.DBID{c1}, nodeIDs(f.tree(t, root)))
	})

	t.Run("stores nothing for a root without comments", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")

		require.NoError(t, f.svc.RebuildCommentTree(ctx, root))
		_, err := f.store.GetMeta(ctx, root, MetaKeyCommentTree)
		assert.ErrorIs(t, err, persist.ErrNotFound)
		assert.Empty(t, f.tree(t, root))
	})

	t.Run("handles long chains without recursion", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		parent := root
		for i := 0; i < 500; i++ {
			_, err := f.store.InsertActivity(ctx, persist.Activity{
				Type:            persist.ActivityTypeComment,
				ItemID:          root,
				SecondaryItemID: parent,
				RecordedAt:      f.tick(),
			})
			require.NoError(t, err)
			found, err := f.store.FindActivities(ctx, persist.ActivityQuery{Max: 1, ShowHidden: true})
			require.NoError(t, err)
			parent = found[0].ID
		}

		require.NoError(t, f.svc.RebuildCommentTree(ctx, root))
		tree := f.tree(t, root)
		require.Len(t, tree, 500)
		assert.Equal(t, 500, tree[len(tree)-1].Depth)
	})

	t.Run("reading a tree rebuilds it when missing", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		c1 := f.comment(t, root, root, "first")
		require.NoError(t, f.store.DeleteMeta(ctx, root, MetaKeyCommentTree))

		assert.Equal(t, []persist.DBID{c1}, nodeIDs(f.tree(t, root)))
	})
}

func TestDeleteComment(t *testing.T) {
	ctx := context.Background()

	t.Run("removes the comment and its descendants", func(t *testing.T) {
		f := newFixture(t)
		a := f.update(t, "a", "root")
		b := f.comment(t, a, a, "b")
		c := f.comment(t, a, b, "c")

		require.NoError(t, f.svc.DeleteComment(ctx, a, b))

		for _, id := range []persist.DBID{b, c} {
			_, err := f.svc.Get(ctx, id)
			assert.ErrorIs(t, err, persist.ErrNotFound)
		}
		assert.Empty(t, f.tree(t, a))
		assert.ElementsMatch(t, []persist.DBID{b, c}, f.mentions.calls[mention.ActionDelete])
	})

	t.Run("deleting a leaf leaves its siblings", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		parent := f.comment(t, root, root, "parent")
		leaf := f.comment(t, root, parent, "leaf")
		sibling := f.comment(t, root, parent, "sibling")

		require.NoError(t, f.svc.DeleteComment(ctx, root, leaf))

		assert.Equal(t, []persist.DBID{parent, sibling}, nodeIDs(f.tree(t, root)))
		assert.Equal(t, []persist.DBID{leaf}, f.mentions.calls[mention.ActionDelete])
	})

	t.Run("a missing comment removes nothing", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		c1 := f.comment(t, root, root, "first")

		err := f.svc.DeleteComment(ctx, root, "missing")
		assert.True(t, util.ErrorAs[persist.ErrCommentNotFoundByID](err))
		assert.Equal(t, []persist.DBID{c1}, nodeIDs(f.tree(t, root)))
	})

	t.Run("a comment of another root is not found", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		other := f.update(t, "a", "other")
		c1 := f.comment(t, other, other, "first")

		err := f.svc.DeleteComment(ctx, root, c1)
		assert.ErrorIs(t, err, persist.ErrNotFound)

		_, err = f.svc.Get(ctx, c1)
		assert.NoError(t, err)
	})

	t.Run("too deep a subtree is rejected before anything is deleted", func(t *testing.T) {
		f := newFixture(t)
		f.svc.MaxCommentDepth = 2
		root := f.update(t, "a", "root")
		c1 := f.comment(t, root, root, "1")
		c2 := f.comment(t, root, c1, "2")
		c3 := f.comment(t, root, c2, "3")
		f.comment(t, root, c3, "4")

		err := f.svc.DeleteComment(ctx, root, c1)
		assert.True(t, util.ErrorAs[ErrCommentTooDeep](err))
		assert.Len(t, f.tree(t, root), 4)
	})

	t.Run("a failed delete rolls back every removal", func(t *testing.T) {
		f := newFixture(t)
		root := f.update(t, "a", "root")
		parent := f.comment(t, root, root, "parent")
		child := f.comment(t, root, parent, "child")

		f.svc.Store = &failingDeleteStore{ActivityStore: f.store, failOn: parent}

		err := f.svc.DeleteComment(ctx, root, parent)
		assert.ErrorIs(t, err, assert.AnError)

		_, err = f.store.GetActivity(ctx, child)
		assert.NoError(t, err)
		_, err = f.store.GetActivity(ctx, parent)
		assert.NoError(t, err)
		assert.Empty(t, f.mentions.calls[mention.ActionDelete])
	})
}

// failingDeleteStore fails deletes that target failOn.
type failingDeleteStore struct {
	persist.ActivityStore
	failOn persist.DBID
}

func (s *failingDeleteStore) WithTx(ctx context.Context, fn func(tx persist.ActivityStore) error) error {
	return s.ActivityStore.WithTx(ctx, func(tx persist.ActivityStore) error {
		return fn(&failingDeleteStore{ActivityStore: tx, failOn: s.failOn})
	})
}

func (s *failingDeleteStore) DeleteActivities(ctx context.Context, f persist.ActivityFilter) ([]persist.DBID, error) {
	if util.Contains(f.IDs, s.failOn) {
		return nil, assert.AnError
	}
	return s.ActivityStore.DeleteActivities(ctx, f)
}
