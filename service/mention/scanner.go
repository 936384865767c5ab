package mention

import (
	"context"
	"errors"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/persist"
)

var mentionPattern = regexp.MustCompile(`@+([A-Za-z0-9_.\-]+)`)

var stripPolicy = bluemonday.StrictPolicy()

// UserResolver maps a handle to the id of the member that owns it. Unknown handles return an
// error that unwraps to persist.ErrNotFound.
type UserResolver interface {
	ResolveUserID(ctx context.Context, handle string) (persist.DBID, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context, handle string) (persist.DBID, error)

func (f UserResolverFunc) ResolveUserID(ctx context.Context, handle string) (persist.DBID, error) {
	return f(ctx, handle)
}

// UsernameResolver resolves handles against the usernames of a user store.
type UsernameResolver struct {
	Users persist.UserStore
}

func (r UsernameResolver) ResolveUserID(ctx context.Context, handle string) (persist.DBID, error) {
	u, err := r.Users.GetUserByUsername(ctx, handle)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

// FindMentions returns the distinct handles mentioned in content, in order of first
// appearance. It returns nil when nothing is mentioned.
func FindMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var handles []string
	for _, m := range matches {
		handle := m[1]
		if seen[handle] {
			continue
		}
		seen[handle] = true
		handles = append(handles, handle)
	}

	return handles
}

// StripMarkup removes every tag from content, leaving the text nodes.
func StripMarkup(content string) string {
	return html.UnescapeString(stripPolicy.Sanitize(content))
}

// ResolveMentions scans content for handles and resolves them to distinct user ids.
// Handles nobody owns are skipped.
func ResolveMentions(ctx context.Context, resolver UserResolver, content string) ([]persist.DBID, error) {
	handles := FindMentions(StripMarkup(content))
	if len(handles) == 0 {
		return nil, nil
	}

	seen := make(map[persist.DBID]bool, len(handles))
	var userIDs []persist.DBID
	for _, handle := range handles {
		userID, err := resolveHandle(ctx, resolver, handle)
		if errors.Is(err, persist.ErrNotFound) {
			logger.For(ctx).Debugf("skipping mention of unknown handle %q", handle)
			continue
		}
		if err != nil {
			return nil, err
		}
		if seen[userID] {
			continue
		}
		seen[userID] = true
		userIDs = append(userIDs, userID)
	}

	return userIDs, nil
}

// resolveHandle retries handles that end in sentence punctuation, e.g. "thanks @bob."
func resolveHandle(ctx context.Context, resolver UserResolver, handle string) (persist.DBID, error) {
	userID, err := resolver.ResolveUserID(ctx, handle)
	if err == nil || !errors.Is(err, persist.ErrNotFound) {
		return userID, err
	}

	trimmed := strings.TrimRight(handle, ".")
	if trimmed == handle || trimmed == "" {
		return "", err
	}
	return resolver.ResolveUserID(ctx, trimmed)
}
