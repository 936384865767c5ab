package mention

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/metric"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/util"
)

// User meta keys holding a member's unread mentions.
const (
	MetaKeyMentions     = "new_mentions"
	MetaKeyMentionCount = "new_mention_count"
)

type Action string

const (
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
)

// DefaultEligibleTypes are the activity types whose content is scanned for mentions.
var DefaultEligibleTypes = []string{persist.ActivityTypeUpdate, persist.ActivityTypeComment}

// Locker serializes work on a key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// MentionIndex is the set of activities that mention a member and haven't been read yet.
type MentionIndex struct {
	ActivityIDs []persist.DBID `json:"activity_ids"`
	Count       int            `json:"count"`
}

type ErrInvalidAction struct {
	Action Action
}

func (e ErrInvalidAction) Error() string {
	return fmt.Sprintf("invalid mention action %q", e.Action)
}

// Counter keeps each member's mention index in step with the activities that mention them.
type Counter struct {
	Activities    persist.ActivityStore
	Users         persist.UserStore
	Resolver      UserResolver
	Locker        Locker
	EligibleTypes []string
	Metrics       metric.MetricReporter
}

func NewCounter(activities persist.ActivityStore, users persist.UserStore, resolver UserResolver, locker Locker, eligibleTypes []string) *Counter {
	if len(eligibleTypes) == 0 {
		eligibleTypes = DefaultEligibleTypes
	}
	return &Counter{
		Activities:    activities,
		Users:         users,
		Resolver:      resolver,
		Locker:        locker,
		EligibleTypes: eligibleTypes,
		Metrics:       metric.NoopReporter(),
	}
}

// AdjustMentions adds activityID to, or removes it from, the index of every member its content
// mentions. A missing activity or an ineligible type is a no-op.
func (c *Counter) AdjustMentions(ctx context.Context, activityID persist.DBID, action Action) error {
	a, err := c.Activities.GetActivity(ctx, activityID)
	if errors.Is(err, persist.ErrNotFound) {
		logger.For(ctx).Debugf("activity %s not found, skipping mention adjustment", activityID)
		return nil
	}
	if err != nil {
		return err
	}
	return c.AdjustForActivity(ctx, a, action)
}

// AdjustForActivity is AdjustMentions for an activity that is already loaded, e.g. one whose row
// is about to be deleted.
func (c *Counter) AdjustForActivity(ctx context.Context, a persist.Activity, action Action) error {
	if action != ActionAdd && action != ActionDelete {
		return ErrInvalidAction{Action: action}
	}
	if !util.Contains(c.EligibleTypes, a.Type) {
		return nil
	}

	userIDs, err := ResolveMentions(ctx, c.Resolver, a.Content)
	if err != nil {
		return fmt.Errorf("resolving mentions of activity %s: %w", a.ID, err)
	}

	// Each user is guarded by its own lock
	errGroup, ctx := errgroup.WithContext(ctx)
	for _, userID := range userIDs {
		userID := userID
		errGroup.Go(func() error {
			if err := c.adjustUser(ctx, userID, a.ID, action); err != nil {
				return fmt.Errorf("adjusting mentions of user %s: %w", userID, err)
			}
			return nil
		})
	}

	return errGroup.Wait()
}

func (c *Counter) adjustUser(ctx context.Context, userID, activityID persist.DBID, action Action) error {
	unlock, err := c.Locker.Lock(ctx, mentionLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	index, err := c.Mentions(ctx, userID)
	if err != nil {
		return err
	}

	ids := index.ActivityIDs
	present := util.Contains(ids, activityID)

	switch action {
	case ActionAdd:
		if present {
			return nil
		}
		ids = append(ids, activityID)
	case ActionDelete:
		if !present {
			return nil
		}
		ids = removeID(ids, activityID)
	}

	if err := c.write(ctx, userID, ids); err != nil {
		return err
	}

	c.Metrics.Record(ctx, metric.Measure{Name: "mention_" + string(action), Value: 1},
		metric.LogOptions.WithLogMessage(fmt.Sprintf("mention of activity %s", activityID)),
	)

	return nil
}

func (c *Counter) write(ctx context.Context, userID persist.DBID, ids []persist.DBID) error {
	if ids == nil {
		ids = []persist.DBID{}
	}
	list, err := persist.StructuredMeta(ids)
	if err != nil {
		return err
	}
	return c.Users.SetUserMeta(ctx, userID, map[string]persist.MetaValue{
		MetaKeyMentions:     list,
		MetaKeyMentionCount: persist.StringMeta(strconv.Itoa(len(ids))),
	})
}

// Mentions returns a member's mention index. A member without one has an empty index.
func (c *Counter) Mentions(ctx context.Context, userID persist.DBID) (MentionIndex, error) {
	v, err := c.Users.GetUserMeta(ctx, userID, MetaKeyMentions)
	if errors.Is(err, persist.ErrNotFound) {
		return MentionIndex{}, nil
	}
	if err != nil {
		return MentionIndex{}, err
	}

	var ids []persist.DBID
	if !v.IsZero() {
		if err := v.Decode(&ids); err != nil {
			return MentionIndex{}, fmt.Errorf("decoding mentions of user %s: %w", userID, err)
		}
	}

	return MentionIndex{ActivityIDs: ids, Count: len(ids)}, nil
}

// ClearMentions empties a member's mention index.
func (c *Counter) ClearMentions(ctx context.Context, userID persist.DBID) error {
	unlock, err := c.Locker.Lock(ctx, mentionLockKey(userID))
	if err != nil {
		return err
	}
	defer unlock()

	return c.Users.DeleteUserMeta(ctx, userID, MetaKeyMentions, MetaKeyMentionCount)
}

func mentionLockKey(userID persist.DBID) string {
	return "user:" + userID.String()
}

func removeID(ids []persist.DBID, id persist.DBID) []persist.DBID {
	out := make([]persist.DBID, 0, len(ids))
	for _, it := range ids {
		if it != id {
			out = append(out, it)
		}
	}
	return out
}
