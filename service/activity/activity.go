// Package activity is the facade over the activity store: item and meta CRUD, the sitewide
// feed cache and the threaded comment trees.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/service/redis"
	"github.com/mikeydub/go-activity/util"
)

const (
	// SitewideFrontKey prefixes the cache key of the first page of the sitewide feed. The full key
	// carries the current generation, so a page computed before an invalidation is never read.
	SitewideFrontKey = "activity_sitewide_front"

	// SitewideGenerationKey holds the current generation of the sitewide feed cache.
	SitewideGenerationKey = "activity_sitewide_generation"

	// SitewidePageSize is the only page size whose first page is cached.
	SitewidePageSize = 20

	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxCommentDepth = 64
)

var ErrMissingType = errors.New("activity type is required")

// FeedCache stores the rendered first page of the sitewide feed.
type FeedCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, expiration time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// MentionAdjuster updates mention indexes for an activity that is being added or removed.
type MentionAdjuster interface {
	AdjustForActivity(ctx context.Context, a persist.Activity, action mention.Action) error
}

type Service struct {
	Store           persist.ActivityStore
	Mentions        MentionAdjuster
	Cache           FeedCache
	CacheTTL        time.Duration
	MaxCommentDepth int
}

func NewService(store persist.ActivityStore, mentions MentionAdjuster, cache FeedCache) *Service {
	return &Service{
		Store:           store,
		Mentions:        mentions,
		Cache:           cache,
		CacheTTL:        DefaultCacheTTL,
		MaxCommentDepth: DefaultMaxCommentDepth,
	}
}

func (s *Service) Get(ctx context.Context, id persist.DBID) (persist.Activity, error) {
	return s.Store.GetActivity(ctx, id)
}

// Find returns the activities matching q. The first page of the unfiltered sitewide feed is
// read through the feed cache.
func (s *Service) Find(ctx context.Context, q persist.ActivityQuery) ([]persist.Activity, error) {
	if s.Cache == nil || !q.IsSitewideFront() || q.PerPage != SitewidePageSize {
		return s.Store.FindActivities(ctx, q)
	}

	key, ok := s.frontPageKey(ctx)
	if !ok {
		return s.Store.FindActivities(ctx, q)
	}

	b, err := redis.LazyCache{
		Cache: s.Cache,
		Key:   key,
		TTL:   s.CacheTTL,
		CalcFunc: func(ctx context.Context) ([]byte, error) {
			activities, err := s.Store.FindActivities(ctx, q)
			if err != nil {
				return nil, err
			}
			return json.Marshal(activities)
		},
	}.Load(ctx)
	if err != nil {
		return nil, err
	}

	var activities []persist.Activity
	if err := json.Unmarshal(b, &activities); err != nil {
		logger.For(ctx).WithError(err).Warn("discarding unreadable sitewide feed cache entry")
		s.invalidate(ctx)
		return s.Store.FindActivities(ctx, q)
	}

	return activities, nil
}

// Save inserts a when it has no id and overwrites the stored item otherwise. Saving a comment
// rebuilds the comment tree of its root.
func (s *Service) Save(ctx context.Context, a persist.Activity) (persist.DBID, error) {
	if a.Type == "" {
		return "", ErrMissingType
	}
	if a.Component == "" {
		a.Component = persist.ComponentActivity
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now().UTC()
	}

	if a.ID == "" {
		id, err := s.Store.InsertActivity(ctx, a)
		if err != nil {
			return "", fmt.Errorf("inserting activity: %w", err)
		}
		a.ID = id
	} else if err := s.Store.UpdateActivity(ctx, a); err != nil {
		return "", err
	}

	s.invalidate(ctx)

	if a.IsComment() && a.ItemID != "" {
		if err := s.RebuildCommentTree(ctx, a.ItemID); err != nil {
			return a.ID, fmt.Errorf("rebuilding comment tree of %s: %w", a.ItemID, err)
		}
	}

	return a.ID, nil
}

// Delete removes every activity matching f, together with the comments of any removed root and
// the replies below any removed comment, and returns the ids of everything removed.
func (s *Service) Delete(ctx context.Context, f persist.ActivityFilter) ([]persist.DBID, error) {
	removed, err := s.Remove(ctx, f)
	if err != nil {
		return nil, err
	}
	return activityIDs(removed), nil
}

// Remove is Delete returning the removed items as they were before deletion.
func (s *Service) Remove(ctx context.Context, f persist.ActivityFilter) ([]persist.Activity, error) {
	if f.IsEmpty() {
		return nil, persist.ErrEmptyFilter
	}

	var removed []persist.Activity
	err := s.Store.WithTx(ctx, func(tx persist.ActivityStore) error {
		var err error
		removed, err = s.deleteMatching(ctx, tx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterDelete(ctx, removed, nil)
	return removed, nil
}

func (s *Service) deleteMatching(ctx context.Context, tx persist.ActivityStore, f persist.ActivityFilter) ([]persist.Activity, error) {
	items, err := tx.FindActivities(ctx, persist.ActivityQuery{Filter: f, ShowHidden: true, Sort: persist.SortAsc})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	removed := make(map[persist.DBID]bool, len(items))
	for _, a := range items {
		removed[a.ID] = true
	}

	var roots []persist.DBID
	for _, a := range items {
		if !a.IsComment() {
			roots = append(roots, a.ID)
		}
	}

	var extra []persist.Activity
	if len(roots) > 0 {
		comments, err := tx.FindActivities(ctx, persist.ActivityQuery{
			Filter:     persist.ActivityFilter{Types: []string{persist.ActivityTypeComment}, ItemIDs: roots},
			ShowHidden: true,
			Sort:       persist.SortAsc,
		})
		if err != nil {
			return nil, err
		}
		for _, c := range comments {
			if !removed[c.ID] {
				removed[c.ID] = true
				extra = append(extra, c)
			}
		}
	}

	// Replies below a removed comment go with it. Comments of removed roots are already covered.
	threads := make(map[persist.DBID][]persist.Activity)
	for _, a := range items {
		if !a.IsComment() || a.ItemID == "" || removed[a.ItemID] {
			continue
		}
		comments, ok := threads[a.ItemID]
		if !ok {
			comments, err = s.commentsOf(ctx, tx, a.ItemID)
			if err != nil {
				return nil, err
			}
			threads[a.ItemID] = comments
		}
		replies, err := s.descendants(a.ID, comments)
		if err != nil {
			return nil, err
		}
		for _, r := range replies {
			if !removed[r.ID] {
				removed[r.ID] = true
				extra = append(extra, r)
			}
		}
	}

	if _, err := tx.DeleteActivities(ctx, f); err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if _, err := tx.DeleteActivities(ctx, persist.ActivityFilter{IDs: activityIDs(extra)}); err != nil {
			return nil, err
		}
		items = append(items, extra...)
	}

	for _, a := range items {
		if err := tx.DeleteMeta(ctx, a.ID); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// afterDelete runs the follow-up work of a committed delete. Roots in rebuilt have already been
// rebuilt by the caller.
func (s *Service) afterDelete(ctx context.Context, removed []persist.Activity, rebuilt []persist.DBID) {
	gone := make(map[persist.DBID]bool, len(removed))
	for _, a := range removed {
		gone[a.ID] = true
	}
	for _, id := range rebuilt {
		gone[id] = true
	}

	for _, a := range removed {
		if a.IsComment() && a.ItemID != "" && !gone[a.ItemID] {
			gone[a.ItemID] = true
			if err := s.RebuildCommentTree(ctx, a.ItemID); err != nil {
				logger.For(ctx).WithError(err).Errorf("failed to rebuild comment tree of %s", a.ItemID)
			}
		}
	}

	if s.Mentions != nil {
		for _, a := range removed {
			if err := s.Mentions.AdjustForActivity(ctx, a, mention.ActionDelete); err != nil {
				logger.For(ctx).WithError(err).Errorf("failed to remove mentions of deleted activity %s", a.ID)
			}
		}
	}

	s.invalidate(ctx)
}

// GetMeta reads a meta value. A missing key is reported as persist.ErrMetaNotFoundByKey.
func (s *Service) GetMeta(ctx context.Context, activityID persist.DBID, key string) (persist.MetaValue, error) {
	return s.Store.GetMeta(ctx, activityID, persist.SanitizeMetaKey(key))
}

// SetMeta writes a meta value. Writing an empty value deletes the key.
func (s *Service) SetMeta(ctx context.Context, activityID persist.DBID, key string, value persist.MetaValue) error {
	key = persist.SanitizeMetaKey(key)
	if key == "" {
		return fmt.Errorf("invalid meta key")
	}
	if value.IsZero() {
		return s.Store.DeleteMeta(ctx, activityID, key)
	}
	return s.Store.SetMeta(ctx, activityID, key, value)
}

// DeleteMeta deletes the given keys, or all of the activity's meta when none are given.
func (s *Service) DeleteMeta(ctx context.Context, activityID persist.DBID, keys ...string) error {
	sanitized := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = persist.SanitizeMetaKey(k); k != "" {
			sanitized = append(sanitized, k)
		}
	}
	if len(keys) > 0 && len(sanitized) == 0 {
		return nil
	}
	return s.Store.DeleteMeta(ctx, activityID, sanitized...)
}

// LastUpdated returns the time of the most recent activity, or the zero time when there is none.
func (s *Service) LastUpdated(ctx context.Context) (time.Time, error) {
	return s.Store.LastUpdated(ctx)
}

// ActivityID returns the id of the newest activity matching f.
func (s *Service) ActivityID(ctx context.Context, f persist.ActivityFilter) (persist.DBID, error) {
	if f.IsEmpty() {
		return "", persist.ErrEmptyFilter
	}
	found, err := s.Store.FindActivities(ctx, persist.ActivityQuery{Filter: f, ShowHidden: true, Max: 1})
	if err != nil {
		return "", err
	}
	if len(found) == 0 {
		return "", persist.ErrActivityNotFound{}
	}
	return found[0].ID, nil
}

func (s *Service) ExistsByContent(ctx context.Context, content string) (bool, error) {
	if content == "" {
		return false, nil
	}
	found, err := s.Store.FindActivities(ctx, persist.ActivityQuery{
		Filter:     persist.ActivityFilter{Content: content},
		ShowHidden: true,
		Max:        1,
	})
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// HideAllForUser hides every activity of a member from the sitewide feed.
func (s *Service) HideAllForUser(ctx context.Context, userID persist.DBID) error {
	if err := s.Store.HideAllForUser(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// InvalidateCache drops the cached sitewide feed.
func (s *Service) InvalidateCache(ctx context.Context) {
	s.invalidate(ctx)
}

// invalidate starts a new cache generation. Pages of older generations are left to expire.
func (s *Service) invalidate(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	gen := []byte(persist.GenerateID())
	if err := s.Cache.Set(ctx, SitewideGenerationKey, gen, 0); err != nil {
		logger.For(ctx).WithError(err).Warn("failed to invalidate sitewide feed cache")
		if err := s.Cache.Delete(ctx, SitewideGenerationKey); err != nil {
			logger.For(ctx).WithError(err).Error("failed to drop sitewide feed cache generation")
		}
	}
}

// frontPageKey returns the cache key of the sitewide front page for the current generation,
// starting the first generation when there is none. It returns false when the cache can't be
// used.
func (s *Service) frontPageKey(ctx context.Context) (string, bool) {
	gen, err := s.Cache.Get(ctx, SitewideGenerationKey)
	if err == nil {
		return SitewideFrontKey + ":" + string(gen), true
	}
	if !util.ErrorAs[redis.ErrKeyNotFound](err) {
		logger.For(ctx).WithError(err).Warn("failed to read sitewide feed cache generation")
		return "", false
	}

	gen = []byte(persist.GenerateID())
	set, err := s.Cache.SetNX(ctx, SitewideGenerationKey, gen, 0)
	if err != nil {
		logger.For(ctx).WithError(err).Warn("failed to start sitewide feed cache generation")
		return "", false
	}
	if !set {
		// another reader started it first
		if gen, err = s.Cache.Get(ctx, SitewideGenerationKey); err != nil {
			return "", false
		}
	}
	return SitewideFrontKey + ":" + string(gen), true
}

func activityIDs(activities []persist.Activity) []persist.DBID {
	ids := make([]persist.DBID, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
	}
	return ids
}
