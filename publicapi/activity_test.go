package publicapi

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/event"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/service/persist/memory"
	"github.com/mikeydub/go-activity/util"
)

type apiFixture struct {
	api   *PublicAPI
	users *memory.UserRepository
	hooks *event.Hooks
	jane  persist.DBID
	bob   persist.DBID
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	ctx := context.Background()

	store := memory.NewActivityRepository()
	users := memory.NewUserRepository()
	locker := memory.NewLocker()

	jane, err := users.CreateUser(ctx, persist.User{Username: "jane-doe", DisplayName: "Jane Doe"})
	require.NoError(t, err)
	bob, err := users.CreateUser(ctx, persist.User{Username: "bob"})
	require.NoError(t, err)

	counter := mention.NewCounter(store, users, mention.UsernameResolver{Users: users}, locker, nil)
	hooks := event.NewHooks()

	api := New(Deps{
		Activities: activity.NewService(store, counter, memory.NewCache()),
		Users:      users,
		Mentions:   counter,
		Locker:     locker,
		Hooks:      hooks,
	}, Config{SiteURL: "https://example.com/", Slug: "activity"})

	return apiFixture{api: api, users: users, hooks: hooks, jane: jane, bob: bob}
}

func TestPostUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("records the update, the latest update and mentions", func(t *testing.T) {
		f := newAPIFixture(t)

		id, err := f.api.Activity.PostUpdate(ctx, f.jane, "Thanks @bob for the help @bob!")
		require.NoError(t, err)

		a, err := f.api.Activity.GetActivityByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe posted an update", a.Action)
		assert.Equal(t, "https://example.com/members/jane-doe/", a.PrimaryLink)

		v, err := f.users.GetUserMeta(ctx, f.jane, MetaKeyLatestUpdate)
		require.NoError(t, err)
		var latest LatestUpdate
		require.NoError(t, v.Decode(&latest))
		assert.Equal(t, id, latest.ID)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{id}, index.ActivityIDs)
	})

	t.Run("rejects blank content", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.PostUpdate(ctx, f.jane, "  ")
		assert.True(t, util.ErrorAs[ErrInvalidInput](err))
	})

	t.Run("strips unsafe markup", func(t *testing.T) {
		f := newAPIFixture(t)
		id, err := f.api.Activity.PostUpdate(ctx, f.jane, `hi <script>alert(1)</script>`)
		require.NoError(t, err)
		a, err := f.api.Activity.GetActivityByID(ctx, id)
		require.NoError(t, err)
		assert.NotContains(t, a.Content, "script")
	})

	t.Run("content filters run in priority order", func(t *testing.T) {
		f := newAPIFixture(t)
		f.hooks.ContentFilter.Register("suffix", 20, func(ctx context.Context, e event.ContentEvent) (event.ContentEvent, error) {
			e.Content += "!"
			return e, nil
		})
		f.hooks.ContentFilter.Register("upper", 5, func(ctx context.Context, e event.ContentEvent) (event.ContentEvent, error) {
			e.Content = strings.ToUpper(e.Content)
			return e, nil
		})

		id, err := f.api.Activity.PostUpdate(ctx, f.jane, "hello")
		require.NoError(t, err)
		a, err := f.api.Activity.GetActivityByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "HELLO!", a.Content)
	})

	t.Run("a halting content filter rejects the post", func(t *testing.T) {
		f := newAPIFixture(t)
		f.hooks.ContentFilter.Register("spam", event.DefaultPriority, func(ctx context.Context, e event.ContentEvent) (event.ContentEvent, error) {
			return e, event.ErrHalt
		})

		_, err := f.api.Activity.PostUpdate(ctx, f.jane, "buy now")
		assert.ErrorIs(t, err, ErrContentRejected)
	})

	t.Run("unknown users are rejected", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.PostUpdate(ctx, "nobody", "hi")
		assert.ErrorIs(t, err, persist.ErrNotFound)
	})
}

func TestNewComment(t *testing.T) {
	ctx := context.Background()

	t.Run("replies default to the root and build the tree", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)

		c1, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "first")
		require.NoError(t, err)
		c2, err := f.api.Activity.NewComment(ctx, f.jane, root, c1, "reply @bob")
		require.NoError(t, err)

		tree, err := f.api.Activity.CommentTree(ctx, root)
		require.NoError(t, err)
		assert.Equal(t, []persist.CommentNode{
			{ID: c1, ParentID: root, Depth: 1},
			{ID: c2, ParentID: c1, Depth: 2},
		}, tree)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{c2}, index.ActivityIDs)
	})

	t.Run("comments inherit hidden roots", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.Record(ctx, persist.Activity{Type: "joined_group", HideSitewide: true})
		require.NoError(t, err)

		c1, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "hi")
		require.NoError(t, err)
		a, err := f.api.Activity.GetActivityByID(ctx, c1)
		require.NoError(t, err)
		assert.True(t, a.HideSitewide)
	})

	t.Run("the root must exist", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.NewComment(ctx, f.bob, "missing", "", "hi")
		assert.True(t, util.ErrorAs[persist.ErrActivityNotFoundByID](err))
	})

	t.Run("the parent must be a comment of the root", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)
		other, err := f.api.Activity.PostUpdate(ctx, f.jane, "other")
		require.NoError(t, err)

		_, err = f.api.Activity.NewComment(ctx, f.bob, root, other, "hi")
		assert.True(t, util.ErrorAs[persist.ErrCommentNotFoundByID](err))
	})

	t.Run("recording a comment requires an existing root", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.Record(ctx, persist.Activity{Type: persist.ActivityTypeComment, ItemID: "missing"})
		assert.True(t, util.ErrorAs[persist.ErrActivityNotFoundByID](err))

		_, err = f.api.Activity.Record(ctx, persist.Activity{Type: persist.ActivityTypeComment})
		assert.True(t, util.ErrorAs[ErrInvalidInput](err))

		all, err := f.api.Activity.Find(ctx, persist.ActivityQuery{ShowHidden: true})
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("recorded comments reply to the root by default", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)

		c1, err := f.api.Activity.Record(ctx, persist.Activity{Type: persist.ActivityTypeComment, ItemID: root, Content: "hi"})
		require.NoError(t, err)
		a, err := f.api.Activity.GetActivityByID(ctx, c1)
		require.NoError(t, err)
		assert.Equal(t, root, a.SecondaryItemID)

		_, err = f.api.Activity.Record(ctx, persist.Activity{Type: persist.ActivityTypeComment, ItemID: root, SecondaryItemID: "missing"})
		assert.True(t, util.ErrorAs[persist.ErrCommentNotFoundByID](err))
	})

	t.Run("comment hooks fire", func(t *testing.T) {
		f := newAPIFixture(t)
		var posted []event.CommentEvent
		f.hooks.CommentPosted.Register("record", event.DefaultPriority, func(ctx context.Context, e event.CommentEvent) (event.CommentEvent, error) {
			posted = append(posted, e)
			return e, nil
		})

		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)
		c1, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "hi")
		require.NoError(t, err)

		require.Len(t, posted, 1)
		assert.Equal(t, c1, posted[0].CommentID)
		assert.Equal(t, root, posted[0].ParentID)
	})
}

func TestDeleteThroughAPI(t *testing.T) {
	ctx := context.Background()

	t.Run("deleting the latest update clears it", func(t *testing.T) {
		f := newAPIFixture(t)
		id, err := f.api.Activity.PostUpdate(ctx, f.jane, "hello @bob")
		require.NoError(t, err)

		require.NoError(t, f.api.Activity.DeleteActivity(ctx, id))

		_, err = f.users.GetUserMeta(ctx, f.jane, MetaKeyLatestUpdate)
		assert.ErrorIs(t, err, persist.ErrNotFound)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, 0, index.Count)
	})

	t.Run("an older update leaves the latest update alone", func(t *testing.T) {
		f := newAPIFixture(t)
		older, err := f.api.Activity.PostUpdate(ctx, f.jane, "one")
		require.NoError(t, err)
		_, err = f.api.Activity.PostUpdate(ctx, f.jane, "two")
		require.NoError(t, err)

		require.NoError(t, f.api.Activity.DeleteActivity(ctx, older))

		_, err = f.users.GetUserMeta(ctx, f.jane, MetaKeyLatestUpdate)
		assert.NoError(t, err)
	})

	t.Run("missing activities are reported", func(t *testing.T) {
		f := newAPIFixture(t)
		err := f.api.Activity.DeleteActivity(ctx, "missing")
		assert.ErrorIs(t, err, persist.ErrNotFound)
	})

	t.Run("an empty filter is invalid input", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.Delete(ctx, persist.ActivityFilter{})
		assert.True(t, util.ErrorAs[ErrInvalidInput](err))
	})

	t.Run("deleted hooks receive the removed ids", func(t *testing.T) {
		f := newAPIFixture(t)
		var got []persist.DBID
		f.hooks.ActivitiesDeleted.Register("record", event.DefaultPriority, func(ctx context.Context, e event.DeletedEvent) (event.DeletedEvent, error) {
			got = e.IDs
			return e, nil
		})

		id, err := f.api.Activity.PostUpdate(ctx, f.jane, "bye")
		require.NoError(t, err)
		require.NoError(t, f.api.Activity.DeleteActivity(ctx, id))
		assert.Equal(t, []persist.DBID{id}, got)
	})

	t.Run("comment deletion can be vetoed", func(t *testing.T) {
		f := newAPIFixture(t)
		f.hooks.BeforeDeleteComment.Register("keep", event.DefaultPriority, func(ctx context.Context, e event.CommentEvent) (event.CommentEvent, error) {
			return e, event.ErrHalt
		})

		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)
		c1, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "hi")
		require.NoError(t, err)

		err = f.api.Activity.DeleteComment(ctx, root, c1)
		assert.ErrorIs(t, err, ErrCommentDeleteVetoed)

		_, err = f.api.Activity.GetActivityByID(ctx, c1)
		assert.NoError(t, err)
	})

	t.Run("comment deletion removes replies", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)
		c1, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "hi")
		require.NoError(t, err)
		_, err = f.api.Activity.NewComment(ctx, f.jane, root, c1, "hi @bob")
		require.NoError(t, err)

		require.NoError(t, f.api.Activity.DeleteComment(ctx, root, c1))

		tree, err := f.api.Activity.CommentTree(ctx, root)
		require.NoError(t, err)
		assert.Empty(t, tree)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, 0, index.Count)
	})

	t.Run("deleting a comment by id removes its replies", func(t *testing.T) {
		f := newAPIFixture(t)
		root, err := f.api.Activity.PostUpdate(ctx, f.jane, "root")
		require.NoError(t, err)
		b, err := f.api.Activity.NewComment(ctx, f.bob, root, "", "b")
		require.NoError(t, err)
		c, err := f.api.Activity.NewComment(ctx, f.jane, root, b, "c @bob")
		require.NoError(t, err)

		require.NoError(t, f.api.Activity.DeleteActivity(ctx, b))

		_, err = f.api.Activity.GetActivityByID(ctx, c)
		assert.ErrorIs(t, err, persist.ErrNotFound)

		tree, err := f.api.Activity.CommentTree(ctx, root)
		require.NoError(t, err)
		assert.Empty(t, tree)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, 0, index.Count)
	})
}

func TestFavorites(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)

	id, err := f.api.Activity.PostUpdate(ctx, f.jane, "like me")
	require.NoError(t, err)

	require.NoError(t, f.api.Activity.AddFavorite(ctx, f.bob, id))
	require.NoError(t, f.api.Activity.AddFavorite(ctx, f.bob, id))
	require.NoError(t, f.api.Activity.AddFavorite(ctx, f.jane, id))

	favorites, err := f.api.Activity.Favorites(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, []persist.DBID{id}, favorites)

	total, err := f.api.Activity.TotalFavorites(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	require.NoError(t, f.api.Activity.RemoveFavorite(ctx, f.bob, id))
	require.NoError(t, f.api.Activity.RemoveFavorite(ctx, f.bob, id))

	total, err = f.api.Activity.TotalFavorites(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	err = f.api.Activity.AddFavorite(ctx, f.bob, "missing")
	assert.ErrorIs(t, err, persist.ErrNotFound)
}

func TestUserCleanup(t *testing.T) {
	ctx := context.Background()

	t.Run("remove all user data", func(t *testing.T) {
		f := newAPIFixture(t)
		mine, err := f.api.Activity.PostUpdate(ctx, f.bob, "mine")
		require.NoError(t, err)
		theirs, err := f.api.Activity.PostUpdate(ctx, f.jane, "hey @bob")
		require.NoError(t, err)
		require.NoError(t, f.api.Activity.AddFavorite(ctx, f.bob, theirs))

		require.NoError(t, f.api.Activity.RemoveAllUserData(ctx, f.bob))

		_, err = f.api.Activity.GetActivityByID(ctx, mine)
		assert.ErrorIs(t, err, persist.ErrNotFound)

		total, err := f.api.Activity.TotalFavorites(ctx, theirs)
		require.NoError(t, err)
		assert.Equal(t, 0, total)

		index, err := f.api.Mention.Mentions(ctx, f.bob)
		require.NoError(t, err)
		assert.Equal(t, 0, index.Count)
	})

	t.Run("hide user activity", func(t *testing.T) {
		f := newAPIFixture(t)
		_, err := f.api.Activity.PostUpdate(ctx, f.bob, "spam")
		require.NoError(t, err)
		kept, err := f.api.Activity.PostUpdate(ctx, f.jane, "ham")
		require.NoError(t, err)

		require.NoError(t, f.api.Activity.HideUserActivity(ctx, f.bob))

		visible, err := f.api.Activity.Find(ctx, persist.ActivityQuery{PerPage: 20})
		require.NoError(t, err)
		require.Len(t, visible, 1)
		assert.Equal(t, kept, visible[0].ID)
	})
}

func TestPermalink(t *testing.T) {
	f := newAPIFixture(t)

	assert.Equal(t, "https://example.com/activity/p/c1/", f.api.Activity.Permalink(persist.Activity{ID: "c1", Type: persist.ActivityTypeUpdate}))
	assert.Equal(t, "https://example.com/activity/p/root/", f.api.Activity.Permalink(persist.Activity{ID: "c2", Type: persist.ActivityTypeComment, ItemID: "root"}))
	assert.Equal(t, "https://example.com/blog/post", f.api.Activity.Permalink(persist.Activity{ID: "b1", Type: "new_blog_post", PrimaryLink: "https://example.com/blog/post"}))
}

func TestMentionNotification(t *testing.T) {
	ctx := context.Background()
	f := newAPIFixture(t)

	text, err := f.api.Mention.Notification(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = f.api.Activity.PostUpdate(ctx, f.jane, "hi @bob")
	require.NoError(t, err)
	text, err = f.api.Mention.Notification(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe mentioned you in an activity update", text)

	_, err = f.api.Activity.PostUpdate(ctx, f.jane, "again @bob")
	require.NoError(t, err)
	text, err = f.api.Mention.Notification(ctx, f.bob)
	require.NoError(t, err)
	assert.Equal(t, "You have 2 new activity mentions", text)

	require.NoError(t, f.api.Mention.ClearMentions(ctx, f.bob))
	text, err = f.api.Mention.Notification(ctx, f.bob)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestActionRegistry(t *testing.T) {
	r := NewActionRegistry()
	r.Register("groups", "joined_group", "Joined a group")
	r.Register("", "ignored", "no component")

	a, ok := r.Lookup("groups", "joined_group")
	require.True(t, ok)
	assert.Equal(t, "Joined a group", a.Description)

	_, ok = r.Lookup("groups", "left_group")
	assert.False(t, ok)

	assert.Len(t, r.All(), 3)
	assert.Equal(t, persist.ComponentActivity, r.All()[0].Component)
}
