package publicapi

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"

	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
)

type MentionAPI struct {
	activities *activity.Service
	users      persist.UserStore
	mentions   *mention.Counter
	validator  *validator.Validate
}

func (api MentionAPI) Mentions(ctx context.Context, userID persist.DBID) (mention.MentionIndex, error) {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID": {userID, "required"},
	}); err != nil {
		return mention.MentionIndex{}, err
	}

	return api.mentions.Mentions(ctx, userID)
}

// ClearMentions marks every mention of the member as read.
func (api MentionAPI) ClearMentions(ctx context.Context, userID persist.DBID) error {
	// Validate
	if err := validateFields(api.validator, validationMap{
		"userID": {userID, "required"},
	}); err != nil {
		return err
	}

	return api.mentions.ClearMentions(ctx, userID)
}

// Notification renders the member's unread mentions as a single line, or "" when there are none.
func (api MentionAPI) Notification(ctx context.Context, userID persist.DBID) (string, error) {
	index, err := api.Mentions(ctx, userID)
	if err != nil {
		return "", err
	}
	if index.Count == 0 {
		return "", nil
	}
	if index.Count > 1 {
		return mention.FormatNotification(index.Count, ""), nil
	}

	poster := ""
	a, err := api.activities.Get(ctx, index.ActivityIDs[0])
	if err != nil && !errors.Is(err, persist.ErrNotFound) {
		return "", err
	}
	if err == nil && a.UserID != "" {
		u, err := api.users.GetUserByID(ctx, a.UserID)
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			return "", err
		}
		poster = u.Name()
	}

	return mention.FormatNotification(index.Count, poster), nil
}
