package persist

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	ComponentActivity = "activity"

	ActivityTypeUpdate  = "activity_update"
	ActivityTypeComment = "activity_comment"
)

// Activity is a single record in the activity stream: a status update, a comment or a system event.
// For comments ItemID is the root activity and SecondaryItemID the parent comment (or the root when top-level).
type Activity struct {
	ID              DBID      `json:"id"`
	UserID          DBID      `json:"user_id,omitempty"`
	Component       string    `json:"component"`
	Type            string    `json:"type"`
	Action          string    `json:"action"`
	Content         string    `json:"content"`
	PrimaryLink     string    `json:"primary_link,omitempty"`
	ItemID          DBID      `json:"item_id,omitempty"`
	SecondaryItemID DBID      `json:"secondary_item_id,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
	HideSitewide    bool      `json:"hide_sitewide"`
}

func (a Activity) IsComment() bool {
	return a.Type == ActivityTypeComment
}

// ActivityFilter is a conjunction over activity fields. Slice fields match any of their values;
// zero valued fields are ignored.
type ActivityFilter struct {
	IDs              []DBID
	UserIDs          []DBID
	Components       []string
	Types            []string
	ItemIDs          []DBID
	SecondaryItemIDs []DBID
	Action           string
	Content          string
	PrimaryLink      string
	RecordedAt       *time.Time
	HideSitewide     *bool
}

func (f ActivityFilter) IsEmpty() bool {
	return len(f.IDs) == 0 &&
		len(f.UserIDs) == 0 &&
		len(f.Components) == 0 &&
		len(f.Types) == 0 &&
		len(f.ItemIDs) == 0 &&
		len(f.SecondaryItemIDs) == 0 &&
		f.Action == "" &&
		f.Content == "" &&
		f.PrimaryLink == "" &&
		f.RecordedAt == nil &&
		f.HideSitewide == nil
}

// Matches reports whether a satisfies every set field of the filter.
func (f ActivityFilter) Matches(a Activity) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, a.ID) {
		return false
	}
	if len(f.UserIDs) > 0 && !containsID(f.UserIDs, a.UserID) {
		return false
	}
	if len(f.Components) > 0 && !containsString(f.Components, a.Component) {
		return false
	}
	if len(f.Types) > 0 && !containsString(f.Types, a.Type) {
		return false
	}
	if len(f.ItemIDs) > 0 && !containsID(f.ItemIDs, a.ItemID) {
		return false
	}
	if len(f.SecondaryItemIDs) > 0 && !containsID(f.SecondaryItemIDs, a.SecondaryItemID) {
		return false
	}
	if f.Action != "" && f.Action != a.Action {
		return false
	}
	if f.Content != "" && f.Content != a.Content {
		return false
	}
	if f.PrimaryLink != "" && f.PrimaryLink != a.PrimaryLink {
		return false
	}
	if f.RecordedAt != nil && !f.RecordedAt.Equal(a.RecordedAt) {
		return false
	}
	if f.HideSitewide != nil && *f.HideSitewide != a.HideSitewide {
		return false
	}
	return true
}

type SortOrder string

const (
	SortDesc SortOrder = "DESC"
	SortAsc  SortOrder = "ASC"
)

// ActivityQuery describes a read of the activity stream. Results are ordered by RecordedAt,
// newest first unless Sort is SortAsc.
type ActivityQuery struct {
	Filter      ActivityFilter
	SearchTerms string
	ShowHidden  bool
	Exclude     []DBID
	Sort        SortOrder
	Page        int
	PerPage     int
	Max         int
}

// IsSitewideFront reports whether q asks for the first unfiltered page of the sitewide feed.
func (q ActivityQuery) IsSitewideFront() bool {
	return q.Page <= 1 &&
		q.Max == 0 &&
		q.SearchTerms == "" &&
		q.Filter.IsEmpty() &&
		q.Order() == SortDesc &&
		len(q.Exclude) == 0 &&
		!q.ShowHidden
}

func (q ActivityQuery) Order() SortOrder {
	if strings.EqualFold(string(q.Sort), string(SortAsc)) {
		return SortAsc
	}
	return SortDesc
}

// Bounds returns the offset and limit implied by the paging fields. A limit of 0 means unbounded.
func (q ActivityQuery) Bounds() (offset, limit int) {
	if q.PerPage > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		offset = (page - 1) * q.PerPage
		limit = q.PerPage
	}
	if q.Max > 0 && (limit == 0 || q.Max < limit) {
		limit = q.Max
	}
	return offset, limit
}

// ErrEmptyFilter is returned when a destructive operation is given a filter with no fields set.
var ErrEmptyFilter = errors.New("activity filter must set at least one field")

var errActivityNotFound ErrActivityNotFound

type ErrActivityNotFound struct{}

func (e ErrActivityNotFound) Unwrap() error { return notFoundError }
func (e ErrActivityNotFound) Error() string { return "activity not found" }

type ErrActivityNotFoundByID struct{ ID DBID }

func (e ErrActivityNotFoundByID) Unwrap() error { return errActivityNotFound }
func (e ErrActivityNotFoundByID) Error() string {
	return fmt.Sprintf("activity not found by id=%s", e.ID)
}

func containsID(ids []DBID, id DBID) bool {
	for _, it := range ids {
		if it == id {
			return true
		}
	}
	return false
}

func containsString(s []string, str string) bool {
	for _, it := range s {
		if it == str {
			return true
		}
	}
	return false
}
