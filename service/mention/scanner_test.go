package mention

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeydub/go-activity/service/persist"
)

func stubResolver(users map[string]persist.DBID) UserResolver {
	return UserResolverFunc(func(ctx context.Context, handle string) (persist.DBID, error) {
		if id, ok := users[handle]; ok {
			return id, nil
		}
		return "", persist.ErrUserNotFoundByUsername{Username: handle}
	})
}

func TestFindMentions(t *testing.T) {
	cases := []struct {
		title    string
		content  string
		expected []string
	}{
		{title: "finds distinct handles in order", content: "hi @bob, @bob, @alice", expected: []string{"bob", "alice"}},
		{title: "returns nil without mentions", content: "nothing to see here", expected: nil},
		{title: "returns nil for empty content", content: "", expected: nil},
		{title: "accepts dashes dots and underscores", content: "@jane-doe and @j.smith and @a_b", expected: []string{"jane-doe", "j.smith", "a_b"}},
		{title: "collapses repeated at signs", content: "@@bob", expected: []string{"bob"}},
		{title: "keeps trailing periods", content: "thanks @bob.", expected: []string{"bob."}},
		{title: "ignores a bare at sign", content: "meet @ noon", expected: nil},
		{title: "is case sensitive", content: "@Bob @bob", expected: []string{"Bob", "bob"}},
	}

	for _, c := range cases {
		t.Run(c.title, func(t *testing.T) {
			assert.Equal(t, c.expected, FindMentions(c.content))
		})
	}
}

func TestStripMarkup(t *testing.T) {
	t.Run("removes tags and keeps text", func(t *testing.T) {
		assert.Equal(t, "hello @bob", StripMarkup(`<a href="/members/bob">hello</a> @bob`))
	})

	t.Run("mentions inside links are still found", func(t *testing.T) {
		assert.Equal(t, []string{"alice"}, FindMentions(StripMarkup(`<p>cc <b>@alice</b></p>`)))
	})
}

func TestResolveMentions(t *testing.T) {
	ctx := context.Background()
	resolver := stubResolver(map[string]persist.DBID{"jane-doe": "42", "bob": "7", "Bob": "7"})

	t.Run("resolves each handle once", func(t *testing.T) {
		ids, err := ResolveMentions(ctx, resolver, "Thanks @jane-doe for the help @jane-doe!")
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{"42"}, ids)
	})

	t.Run("skips unknown handles", func(t *testing.T) {
		ids, err := ResolveMentions(ctx, resolver, "@nobody @bob")
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{"7"}, ids)
	})

	t.Run("retries handles ending in a period", func(t *testing.T) {
		ids, err := ResolveMentions(ctx, resolver, "see you later @bob.")
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{"7"}, ids)
	})

	t.Run("dedupes handles that resolve to the same user", func(t *testing.T) {
		ids, err := ResolveMentions(ctx, resolver, "@bob @Bob")
		require.NoError(t, err)
		assert.Equal(t, []persist.DBID{"7"}, ids)
	})

	t.Run("returns nil without mentions", func(t *testing.T) {
		ids, err := ResolveMentions(ctx, resolver, "plain text")
		require.NoError(t, err)
		assert.Nil(t, ids)
	})

	t.Run("propagates resolver failures", func(t *testing.T) {
		failing := UserResolverFunc(func(ctx context.Context, handle string) (persist.DBID, error) {
			return "", assert.AnError
		})
		_, err := ResolveMentions(ctx, failing, "@bob")
		assert.ErrorIs(t, err, assert.AnError)
	})
}

func TestFormatNotification(t *testing.T) {
	assert.Equal(t, "You have 3 new activity mentions", FormatNotification(3, "Bob"))
	assert.Equal(t, "Bob mentioned you in an activity update", FormatNotification(1, "Bob"))
}
