package publicapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/event"
	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/util"
	"github.com/mikeydub/go-activity/validate"
)

// User meta written by the activity API.
const (
	MetaKeyLatestUpdate = "latest_update"
	MetaKeyFavorites    = "favorite_activities"

	// MetaKeyFavoriteCount is activity meta.
	MetaKeyFavoriteCount = "favorite_count"
)

var ErrCommentDeleteVetoed = errors.New("comment deletion was vetoed")

// ErrContentRejected is returned when a content filter halts a post.
var ErrContentRejected = errors.New("content was rejected")

// LatestUpdate is the member's most recent status update.
type LatestUpdate struct {
	ID      persist.DBID `json:"id"`
	Content string       `json:"content"`
}

type ActivityAPI struct {
	activities *activity.Service
	users      persist.UserStore
	mentions   *mention.Counter
	locker     mention.Locker
	hooks      *event.Hooks
	actions    *ActionRegistry
	validator  *validator.Validate
	config     Config
}

func (api ActivityAPI) GetActivityByID(ctx context.Context, activityID persist.DBID) (persist.Activity, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"activityID": {activityID, "required"},
	}); err != nil {
		return persist.Activity{}, err
	}

	return api.activities.Get(ctx, activityID)
}

func (api ActivityAPI) Find(ctx context.Context, q persist.ActivityQuery) ([]persist.Activity, error) {
	// Validate
	if err := api.validator.Struct(q); err != nil {
		return nil, ErrInvalidInput{Parameters: []string{"query"}, Reasons: []string{err.Error()}}
	}
	if err := validateFields(api.validator, validationMap{
		"searchTerms": {q.SearchTerms, "search_terms"},
	}); err != nil {
		return nil, err
	}

	return api.activities.Find(ctx, q)
}

// Record adds an activity of any registered or unregistered kind. Comments must reply to an
// existing root.
func (api ActivityAPI) Record(ctx context.Context, a persist.Activity) (persist.DBID, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"type":   {a.Type, "required,max_string_length=75"},
		"action": {a.Action, "activity_action"},
	}); err != nil {
		return "", err
	}

	if a.IsComment() {
		if err := validateFields(api.validator, validationMap{
			"itemID": {a.ItemID, "required"},
		}); err != nil {
			return "", err
		}
		_, parentID, err := api.commentTarget(ctx, a.ItemID, a.SecondaryItemID)
		if err != nil {
			return "", err
		}
		a.SecondaryItemID = parentID
	}

	if a.Content != "" {
		content, err := api.filterContent(ctx, a.UserID, a.Type, a.Content)
		if err != nil {
			return "", err
		}
		a.Content = content
	}

	id, err := api.activities.Save(ctx, a)
	if err != nil {
		return "", err
	}
	a.ID = id

	api.hooks.ActivityAdded.Notify(ctx, a)
	return id, nil
}

// PostUpdate records a status update by userID and mentions anyone it names.
func (api ActivityAPI) PostUpdate(ctx context.Context, userID persist.DBID, content string) (persist.DBID, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID":  {userID, "required"},
		"content": {content, "activity_content"},
	}); err != nil {
		return "", err
	}

	user, err := api.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	content, err = api.filterContent(ctx, userID, persist.ActivityTypeUpdate, content)
	if err != nil {
		return "", err
	}

	a := persist.Activity{
		UserID:      userID,
		Component:   persist.ComponentActivity,
		Type:        persist.ActivityTypeUpdate,
		Action:      fmt.Sprintf("%s posted an update", user.Name()),
		Content:     content,
		PrimaryLink: api.memberLink(user),
		RecordedAt:  time.Now().UTC(),
	}

	id, err := api.activities.Save(ctx, a)
	if err != nil {
		return "", err
	}
	a.ID = id

	latest, err := persist.StructuredMeta(LatestUpdate{ID: id, Content: content})
	if err != nil {
		return "", err
	}
	if err := api.users.SetUserMeta(ctx, userID, map[string]persist.MetaValue{MetaKeyLatestUpdate: latest}); err != nil {
		return "", fmt.Errorf("saving latest update: %w", err)
	}

	if err := api.mentions.AdjustForActivity(ctx, a, mention.ActionAdd); err != nil {
		return "", err
	}

	api.hooks.ActivityAdded.Notify(ctx, a)
	api.hooks.UpdatePosted.Notify(ctx, a)

	return id, nil
}

// NewComment replies to a root activity, or to parentID when it is one of the root's comments.
// An empty parentID replies to the root.
func (api ActivityAPI) NewComment(ctx context.Context, userID, rootID, parentID persist.DBID, content string) (persist.DBID, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID":  {userID, "required"},
		"rootID":  {rootID, "required"},
		"content": {content, "activity_content"},
	}); err != nil {
		return "", err
	}

	root, parentID, err := api.commentTarget(ctx, rootID, parentID)
	if err != nil {
		return "", err
	}

	user, err := api.users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}

	content, err = api.filterContent(ctx, userID, persist.ActivityTypeComment, content)
	if err != nil {
		return "", err
	}

	a := persist.Activity{
		UserID:          userID,
		Component:       persist.ComponentActivity,
		Type:            persist.ActivityTypeComment,
		Action:          fmt.Sprintf("%s posted a new activity comment", user.Name()),
		Content:         content,
		PrimaryLink:     api.memberLink(user),
		ItemID:          rootID,
		SecondaryItemID: parentID,
		RecordedAt:      time.Now().UTC(),
		HideSitewide:    root.HideSitewide,
	}

	id, err := api.activities.Save(ctx, a)
	if err != nil {
		return "", err
	}
	a.ID = id

	if err := api.mentions.AdjustForActivity(ctx, a, mention.ActionAdd); err != nil {
		return "", err
	}

	api.hooks.ActivityAdded.Notify(ctx, a)
	api.hooks.CommentPosted.Notify(ctx, event.CommentEvent{
		CommentID: id,
		RootID:    rootID,
		ParentID:  parentID,
		UserID:    userID,
		Content:   content,
	})

	return id, nil
}

// commentTarget loads the root a comment replies to and checks that parentID is the root or
// one of its comments. An empty parentID is the root.
func (api ActivityAPI) commentTarget(ctx context.Context, rootID, parentID persist.DBID) (persist.Activity, persist.DBID, error) {
	if parentID == "" {
		parentID = rootID
	}

	root, err := api.activities.Get(ctx, rootID)
	if err != nil {
		return persist.Activity{}, "", err
	}

	if parentID != rootID {
		parent, err := api.activities.Get(ctx, parentID)
		if errors.Is(err, persist.ErrNotFound) || (err == nil && (!parent.IsComment() || parent.ItemID != rootID)) {
			return persist.Activity{}, "", persist.ErrCommentNotFoundByID{ID: parentID}
		}
		if err != nil {
			return persist.Activity{}, "", err
		}
	}

	return root, parentID, nil
}

func (api ActivityAPI) CommentTree(ctx context.Context, rootID persist.DBID) ([]persist.CommentNode, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"rootID": {rootID, "required"},
	}); err != nil {
		return nil, err
	}

	if _, err := api.activities.Get(ctx, rootID); err != nil {
		return nil, err
	}

	return api.activities.CommentTree(ctx, rootID)
}

func (api ActivityAPI) DeleteActivity(ctx context.Context, activityID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"activityID": {activityID, "required"},
	}); err != nil {
		return err
	}

	deleted, err := api.Delete(ctx, persist.ActivityFilter{IDs: []persist.DBID{activityID}})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return persist.ErrActivityNotFoundByID{ID: activityID}
	}
	return nil
}

// Delete removes every activity matching f and returns the removed ids.
func (api ActivityAPI) Delete(ctx context.Context, f persist.ActivityFilter) ([]persist.DBID, error) {
	if f.IsEmpty() {
		return nil, ErrInvalidInput{Parameters: []string{"filter"}, Reasons: []string{persist.ErrEmptyFilter.Error()}}
	}

	removed, err := api.activities.Remove(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return []persist.DBID{}, nil
	}

	ids := make([]persist.DBID, len(removed))
	authors := make([]persist.DBID, 0, len(removed))
	for i, a := range removed {
		ids[i] = a.ID
		if a.UserID != "" && a.Type == persist.ActivityTypeUpdate {
			authors = append(authors, a.UserID)
		}
	}

	for _, userID := range util.Dedupe(authors, false) {
		if err := api.clearLatestUpdate(ctx, userID, ids); err != nil {
			logger.For(ctx).WithError(err).Errorf("failed to clear latest update of user %s", userID)
		}
	}

	api.hooks.ActivitiesDeleted.Notify(ctx, event.DeletedEvent{IDs: ids, Activities: removed})

	return ids, nil
}

func (api ActivityAPI) clearLatestUpdate(ctx context.Context, userID persist.DBID, deleted []persist.DBID) error {
	v, err := api.users.GetUserMeta(ctx, userID, MetaKeyLatestUpdate)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var latest LatestUpdate
	if err := v.Decode(&latest); err != nil {
		return err
	}
	if !util.Contains(deleted, latest.ID) {
		return nil
	}
	return api.users.DeleteUserMeta(ctx, userID, MetaKeyLatestUpdate)
}

// DeleteComment removes a comment and its replies unless a BeforeDeleteComment handler halts.
func (api ActivityAPI) DeleteComment(ctx context.Context, rootID, commentID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"rootID":    {rootID, "required"},
		"commentID": {commentID, "required"},
	}); err != nil {
		return err
	}

	comment, err := api.activities.Get(ctx, commentID)
	if errors.Is(err, persist.ErrNotFound) || (err == nil && (!comment.IsComment() || comment.ItemID != rootID)) {
		return persist.ErrCommentNotFoundByID{ID: commentID}
	}
	if err != nil {
		return err
	}

	_, err = api.hooks.BeforeDeleteComment.Run(ctx, event.CommentEvent{
		CommentID: commentID,
		RootID:    rootID,
		ParentID:  comment.SecondaryItemID,
		UserID:    comment.UserID,
		Content:   comment.Content,
	})
	if errors.Is(err, event.ErrHalt) {
		return ErrCommentDeleteVetoed
	}
	if err != nil {
		return err
	}

	return api.activities.DeleteComment(ctx, rootID, commentID)
}

func (api ActivityAPI) GetMeta(ctx context.Context, activityID persist.DBID, key string) (persist.MetaValue, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"activityID": {activityID, "required"},
		"key":        {key, "meta_key"},
	}); err != nil {
		return persist.MetaValue{}, err
	}

	return api.activities.GetMeta(ctx, activityID, key)
}

func (api ActivityAPI) SetMeta(ctx context.Context, activityID persist.DBID, key string, value persist.MetaValue) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"activityID": {activityID, "required"},
		"key":        {key, "meta_key"},
	}); err != nil {
		return err
	}

	if _, err := api.activities.Get(ctx, activityID); err != nil {
		return err
	}

	return api.activities.SetMeta(ctx, activityID, key, value)
}

func (api ActivityAPI) DeleteMeta(ctx context.Context, activityID persist.DBID, keys ...string) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"activityID": {activityID, "required"},
		"keys":       {keys, "dive,meta_key"},
	}); err != nil {
		return err
	}

	return api.activities.DeleteMeta(ctx, activityID, keys...)
}

// AddFavorite marks an activity as one of the member's favorites. Favoriting twice is a no-op.
func (api ActivityAPI) AddFavorite(ctx context.Context, userID, activityID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID":     {userID, "required"},
		"activityID": {activityID, "required"},
	}); err != nil {
		return err
	}

	if _, err := api.activities.Get(ctx, activityID); err != nil {
		return err
	}

	return api.withFavoriteLock(ctx, userID, activityID, func() error {
		favorites, err := api.Favorites(ctx, userID)
		if err != nil {
			return err
		}
		if util.Contains(favorites, activityID) {
			return nil
		}
		if err := api.setFavorites(ctx, userID, append(favorites, activityID)); err != nil {
			return err
		}
		return api.bumpFavoriteCount(ctx, activityID, 1)
	})
}

// RemoveFavorite undoes AddFavorite. Removing an activity that isn't a favorite is a no-op.
func (api ActivityAPI) RemoveFavorite(ctx context.Context, userID, activityID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID":     {userID, "required"},
		"activityID": {activityID, "required"},
	}); err != nil {
		return err
	}

	return api.withFavoriteLock(ctx, userID, activityID, func() error {
		return api.removeFavorite(ctx, userID, activityID)
	})
}

func (api ActivityAPI) removeFavorite(ctx context.Context, userID, activityID persist.DBID) error {
	favorites, err := api.Favorites(ctx, userID)
	if err != nil {
		return err
	}
	if !util.Contains(favorites, activityID) {
		return nil
	}

	kept := make([]persist.DBID, 0, len(favorites))
	for _, id := range favorites {
		if id != activityID {
			kept = append(kept, id)
		}
	}
	if err := api.setFavorites(ctx, userID, kept); err != nil {
		return err
	}

	err = api.bumpFavoriteCount(ctx, activityID, -1)
	if errors.Is(err, persist.ErrNotFound) {
		return nil
	}
	return err
}

// Favorites returns the ids of a member's favorite activities in the order they were added.
func (api ActivityAPI) Favorites(ctx context.Context, userID persist.DBID) ([]persist.DBID, error) {
	v, err := api.users.GetUserMeta(ctx, userID, MetaKeyFavorites)
	if errors.Is(err, persist.ErrNotFound) {
		return []persist.DBID{}, nil
	}
	if err != nil {
		return nil, err
	}

	favorites := []persist.DBID{}
	if v.IsZero() {
		return favorites, nil
	}
	if err := v.Decode(&favorites); err != nil {
		return nil, fmt.Errorf("decoding favorites of user %s: %w", userID, err)
	}
	return favorites, nil
}

// TotalFavorites returns how many members have favorited an activity.
func (api ActivityAPI) TotalFavorites(ctx context.Context, activityID persist.DBID) (int, error) {
	v, err := api.activities.GetMeta(ctx, activityID, MetaKeyFavoriteCount)
	if errors.Is(err, persist.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v.String())
}

func (api ActivityAPI) setFavorites(ctx context.Context, userID persist.DBID, favorites []persist.DBID) error {
	v, err := persist.StructuredMeta(favorites)
	if err != nil {
		return err
	}
	return api.users.SetUserMeta(ctx, userID, map[string]persist.MetaValue{MetaKeyFavorites: v})
}

func (api ActivityAPI) bumpFavoriteCount(ctx context.Context, activityID persist.DBID, delta int) error {
	if _, err := api.activities.Get(ctx, activityID); err != nil {
		return err
	}
	total, err := api.TotalFavorites(ctx, activityID)
	if err != nil {
		return err
	}
	total += delta
	if total <= 0 {
		return api.activities.DeleteMeta(ctx, activityID, MetaKeyFavoriteCount)
	}
	return api.activities.SetMeta(ctx, activityID, MetaKeyFavoriteCount, persist.StringMeta(strconv.Itoa(total)))
}

// withFavoriteLock serializes favorite changes of a member and the counter of the activity.
func (api ActivityAPI) withFavoriteLock(ctx context.Context, userID, activityID persist.DBID, fn func() error) error {
	if api.locker == nil {
		return fn()
	}

	unlockUser, err := api.locker.Lock(ctx, "favorites:user:"+userID.String())
	if err != nil {
		return err
	}
	defer unlockUser()

	unlockActivity, err := api.locker.Lock(ctx, "favorites:activity:"+activityID.String())
	if err != nil {
		return err
	}
	defer unlockActivity()

	return fn()
}

// RemoveAllUserData deletes a member's activities and every activity attribute kept for them.
func (api ActivityAPI) RemoveAllUserData(ctx context.Context, userID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID": {userID, "required"},
	}); err != nil {
		return err
	}

	if _, err := api.Delete(ctx, persist.ActivityFilter{UserIDs: []persist.DBID{userID}}); err != nil {
		return err
	}

	favorites, err := api.Favorites(ctx, userID)
	if err != nil {
		return err
	}
	for _, activityID := range favorites {
		if err := api.withFavoriteLock(ctx, userID, activityID, func() error {
			return api.removeFavorite(ctx, userID, activityID)
		}); err != nil {
			return err
		}
	}

	if err := api.mentions.ClearMentions(ctx, userID); err != nil {
		return err
	}

	return api.users.DeleteUserMeta(ctx, userID, MetaKeyLatestUpdate, MetaKeyFavorites)
}

// HideUserActivity hides a member's activities from the sitewide feed, e.g. for a spammer.
func (api ActivityAPI) HideUserActivity(ctx context.Context, userID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID": {userID, "required"},
	}); err != nil {
		return err
	}

	return api.activities.HideAllForUser(ctx, userID)
}

func (api ActivityAPI) LastUpdated(ctx context.Context) (time.Time, error) {
	return api.activities.LastUpdated(ctx)
}

// Permalink is the canonical address of an activity. Comments link to their root, and blog and
// forum activities to the post they describe.
func (api ActivityAPI) Permalink(a persist.Activity) string {
	switch {
	case a.IsComment() && a.ItemID != "":
		return api.itemLink(a.ItemID)
	case isContentType(a.Type) && a.PrimaryLink != "":
		return a.PrimaryLink
	}
	return api.itemLink(a.ID)
}

func (api ActivityAPI) itemLink(id persist.DBID) string {
	return fmt.Sprintf("%s/%s/p/%s/", strings.TrimRight(api.config.SiteURL, "/"), api.config.Slug, id)
}

func (api ActivityAPI) memberLink(u persist.User) string {
	return fmt.Sprintf("%s/members/%s/", strings.TrimRight(api.config.SiteURL, "/"), u.Username)
}

func isContentType(typ string) bool {
	switch typ {
	case "new_blog_post", "new_blog_comment", "new_forum_topic", "new_forum_post":
		return true
	}
	return false
}

func (api ActivityAPI) filterContent(ctx context.Context, userID persist.DBID, typ, content string) (string, error) {
	content = validate.SanitizationPolicy.Sanitize(content)

	filtered, err := api.hooks.ContentFilter.Run(ctx, event.ContentEvent{UserID: userID, Type: typ, Content: content})
	if errors.Is(err, event.ErrHalt) {
		return "", ErrContentRejected
	}
	if err != nil {
		return "", err
	}
	return filtered.Content, nil
}
