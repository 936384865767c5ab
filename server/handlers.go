package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeydub/go-activity/publicapi"
	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/util"
)

func handlersInit(router *gin.Engine, reg *prometheus.Registry) *gin.Engine {
	router.GET("/health", healthcheck())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")

	activityGroup := v1.Group("/activity")
	activityGroup.GET("", findActivities())
	activityGroup.POST("", recordActivity())
	activityGroup.DELETE("", deleteActivities())
	activityGroup.GET("/:activity_id", getActivity())
	activityGroup.DELETE("/:activity_id", deleteActivity())
	activityGroup.GET("/:activity_id/comments", getCommentTree())
	activityGroup.POST("/:activity_id/comments", postComment())
	activityGroup.DELETE("/:activity_id/comments/:comment_id", deleteComment())
	activityGroup.GET("/:activity_id/meta/:key", getMeta())
	activityGroup.PUT("/:activity_id/meta/:key", setMeta())
	activityGroup.DELETE("/:activity_id/meta/:key", deleteMeta())
	activityGroup.GET("/:activity_id/favorites/count", totalFavorites())

	v1.POST("/updates", postUpdate())
	v1.GET("/actions", listActions())
	v1.GET("/last-updated", lastUpdated())

	usersGroup := v1.Group("/users/:user_id")
	usersGroup.GET("/mentions", getMentions())
	usersGroup.DELETE("/mentions", clearMentions())
	usersGroup.GET("/mentions/notification", mentionNotification())
	usersGroup.GET("/favorites", getFavorites())
	usersGroup.POST("/favorites/:activity_id", addFavorite())
	usersGroup.DELETE("/favorites/:activity_id", removeFavorite())
	usersGroup.DELETE("/activity", removeUserData())
	usersGroup.POST("/activity/hide", hideUserActivity())

	return router
}

type idResponse struct {
	ID persist.DBID `json:"id"`
}

type idsResponse struct {
	IDs []persist.DBID `json:"ids"`
}

type activitiesResponse struct {
	Activities []persist.Activity `json:"activities"`
}

type commentTreeResponse struct {
	Comments []persist.CommentNode `json:"comments"`
}

type metaResponse struct {
	Key   string            `json:"key"`
	Value persist.MetaValue `json:"value"`
}

type countResponse struct {
	Count int `json:"count"`
}

type notificationResponse struct {
	Text string `json:"text"`
}

type lastUpdatedResponse struct {
	LastUpdated *time.Time `json:"last_updated"`
}

type findActivitiesInput struct {
	UserIDs      []persist.DBID `form:"user_id"`
	Components   []string       `form:"component"`
	Types        []string       `form:"type"`
	ItemIDs      []persist.DBID `form:"item_id"`
	Search       string         `form:"search"`
	ShowHidden   bool           `form:"show_hidden"`
	Exclude      []persist.DBID `form:"exclude"`
	Sort         string         `form:"sort"`
	Page         int            `form:"page"`
	PerPage      int            `form:"per_page"`
	Max          int            `form:"max"`
	HideSitewide *bool          `form:"hide_sitewide"`
}

type recordActivityInput struct {
	UserID          persist.DBID `json:"user_id"`
	Component       string       `json:"component"`
	Type            string       `json:"type" binding:"required"`
	Action          string       `json:"action"`
	Content         string       `json:"content"`
	PrimaryLink     string       `json:"primary_link"`
	ItemID          persist.DBID `json:"item_id"`
	SecondaryItemID persist.DBID `json:"secondary_item_id"`
	RecordedAt      time.Time    `json:"recorded_at"`
	HideSitewide    bool         `json:"hide_sitewide"`
}

type deleteActivitiesInput struct {
	IDs              []persist.DBID `json:"ids"`
	UserIDs          []persist.DBID `json:"user_ids"`
	Components       []string       `json:"components"`
	Types            []string       `json:"types"`
	ItemIDs          []persist.DBID `json:"item_ids"`
	SecondaryItemIDs []persist.DBID `json:"secondary_item_ids"`
	Action           string         `json:"action"`
	Content          string         `json:"content"`
	PrimaryLink      string         `json:"primary_link"`
}

type postUpdateInput struct {
	UserID  persist.DBID `json:"user_id" binding:"required"`
	Content string       `json:"content" binding:"required"`
}

type postCommentInput struct {
	UserID   persist.DBID `json:"user_id" binding:"required"`
	ParentID persist.DBID `json:"parent_id"`
	Content  string       `json:"content" binding:"required"`
}

type setMetaInput struct {
	Value json.RawMessage `json:"value"`
}

func findActivities() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input findActivitiesInput
		if err := c.ShouldBindQuery(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		activities, err := publicapi.For(c).Activity.Find(c, persist.ActivityQuery{
			Filter: persist.ActivityFilter{
				UserIDs:      input.UserIDs,
				Components:   input.Components,
				Types:        input.Types,
				ItemIDs:      input.ItemIDs,
				HideSitewide: input.HideSitewide,
			},
			SearchTerms: input.Search,
			ShowHidden:  input.ShowHidden,
			Exclude:     input.Exclude,
			Sort:        persist.SortOrder(input.Sort),
			Page:        input.Page,
			PerPage:     input.PerPage,
			Max:         input.Max,
		})
		if err != nil {
			errorResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, activitiesResponse{Activities: activities})
	}
}

func recordActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input recordActivityInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		id, err := publicapi.For(c).Activity.Record(c, persist.Activity{
			UserID:          input.UserID,
			Component:       input.Component,
			Type:            input.Type,
			Action:          input.Action,
			Content:         input.Content,
			PrimaryLink:     input.PrimaryLink,
			ItemID:          input.ItemID,
			SecondaryItemID: input.SecondaryItemID,
			RecordedAt:      input.RecordedAt,
			HideSitewide:    input.HideSitewide,
		})
		if err != nil {
			errorResponse(c, err)
			return
		}

		c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func deleteActivities() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input deleteActivitiesInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		deleted, err := publicapi.For(c).Activity.Delete(c, persist.ActivityFilter{
			IDs:              input.IDs,
			UserIDs:          input.UserIDs,
			Components:       input.Components,
			Types:            input.Types,
			ItemIDs:          input.ItemIDs,
			SecondaryItemIDs: input.SecondaryItemIDs,
			Action:           input.Action,
			Content:          input.Content,
			PrimaryLink:      input.PrimaryLink,
		})
		if err != nil {
			errorResponse(c, err)
			return
		}

		c.JSON(http.StatusOK, idsResponse{IDs: deleted})
	}
}

func getActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := publicapi.For(c).Activity.GetActivityByID(c, persist.DBID(c.Param("activity_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func deleteActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := publicapi.For(c).Activity.DeleteActivity(c, persist.DBID(c.Param("activity_id"))); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func getCommentTree() gin.HandlerFunc {
	return func(c *gin.Context) {
		tree, err := publicapi.For(c).Activity.CommentTree(c, persist.DBID(c.Param("activity_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		if tree == nil {
			tree = []persist.CommentNode{}
		}
		c.JSON(http.StatusOK, commentTreeResponse{Comments: tree})
	}
}

func postComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input postCommentInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		id, err := publicapi.For(c).Activity.NewComment(c, input.UserID, persist.DBID(c.Param("activity_id")), input.ParentID, input.Content)
		if err != nil {
			errorResponse(c, err)
			return
		}

		c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func deleteComment() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := publicapi.For(c).Activity.DeleteComment(c, persist.DBID(c.Param("activity_id")), persist.DBID(c.Param("comment_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func getMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		value, err := publicapi.For(c).Activity.GetMeta(c, persist.DBID(c.Param("activity_id")), key)
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, metaResponse{Key: key, Value: value})
	}
}

func setMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input setMetaInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		value, err := metaFromJSON(input.Value)
		if err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		if err := publicapi.For(c).Activity.SetMeta(c, persist.DBID(c.Param("activity_id")), c.Param("key"), value); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func deleteMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := publicapi.For(c).Activity.DeleteMeta(c, persist.DBID(c.Param("activity_id")), c.Param("key")); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func totalFavorites() gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := publicapi.For(c).Activity.TotalFavorites(c, persist.DBID(c.Param("activity_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, countResponse{Count: count})
	}
}

func postUpdate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input postUpdateInput
		if err := c.ShouldBindJSON(&input); err != nil {
			util.ErrResponse(c, http.StatusBadRequest, err)
			return
		}

		id, err := publicapi.For(c).Activity.PostUpdate(c, input.UserID, input.Content)
		if err != nil {
			errorResponse(c, err)
			return
		}

		c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func listActions() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, publicapi.For(c).Actions.All())
	}
}

func lastUpdated() gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := publicapi.For(c).Activity.LastUpdated(c)
		if err != nil {
			errorResponse(c, err)
			return
		}
		var resp lastUpdatedResponse
		if !t.IsZero() {
			resp.LastUpdated = &t
		}
		c.JSON(http.StatusOK, resp)
	}
}

func getMentions() gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := publicapi.For(c).Mention.Mentions(c, persist.DBID(c.Param("user_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, index)
	}
}

func clearMentions() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := publicapi.For(c).Mention.ClearMentions(c, persist.DBID(c.Param("user_id"))); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func mentionNotification() gin.HandlerFunc {
	return func(c *gin.Context) {
		text, err := publicapi.For(c).Mention.Notification(c, persist.DBID(c.Param("user_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, notificationResponse{Text: text})
	}
}

func getFavorites() gin.HandlerFunc {
	return func(c *gin.Context) {
		favorites, err := publicapi.For(c).Activity.Favorites(c, persist.DBID(c.Param("user_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		if favorites == nil {
			favorites = []persist.DBID{}
		}
		c.JSON(http.StatusOK, idsResponse{IDs: favorites})
	}
}

func addFavorite() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := publicapi.For(c).Activity.AddFavorite(c, persist.DBID(c.Param("user_id")), persist.DBID(c.Param("activity_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func removeFavorite() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := publicapi.For(c).Activity.RemoveFavorite(c, persist.DBID(c.Param("user_id")), persist.DBID(c.Param("activity_id")))
		if err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func removeUserData() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := publicapi.For(c).Activity.RemoveAllUserData(c, persist.DBID(c.Param("user_id"))); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

func hideUserActivity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := publicapi.For(c).Activity.HideUserActivity(c, persist.DBID(c.Param("user_id"))); err != nil {
			errorResponse(c, err)
			return
		}
		c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
	}
}

// metaFromJSON keeps JSON strings as plain string values and everything else as structured values.
func metaFromJSON(raw json.RawMessage) (persist.MetaValue, error) {
	if len(raw) == 0 {
		return persist.StringMeta(""), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return persist.StringMeta(s), nil
	}
	return persist.StructuredMeta(raw)
}

func errorResponse(c *gin.Context, err error) {
	util.ErrResponse(c, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case util.ErrorAs[publicapi.ErrInvalidInput](err),
		errors.Is(err, persist.ErrEmptyFilter),
		errors.Is(err, activity.ErrMissingType),
		util.ErrorAs[activity.ErrCommentTooDeep](err),
		errors.Is(err, publicapi.ErrContentRejected):
		return http.StatusBadRequest
	case errors.Is(err, persist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, publicapi.ErrCommentDeleteVetoed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
