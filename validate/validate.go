package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mikeydub/go-activity/service/persist"
)

var reservedUsernames = map[string]bool{
	"activity":      true,
	"admin":         true,
	"all":           true,
	"everyone":      true,
	"favorites":     true,
	"friends":       true,
	"groups":        true,
	"members":       true,
	"mentions":      true,
	"notifications": true,
	"settings":      true,
}

var handleRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// SanitizationPolicy is a policy for sanitizing user input
var SanitizationPolicy = bluemonday.UGCPolicy()

// MaxPerPage caps the page size of activity reads
const MaxPerPage = 100

func RegisterCustomValidators(v *validator.Validate) {
	v.RegisterValidation("username", UsernameValidator)
	v.RegisterValidation("max_string_length", MaxStringLengthValidator)
	v.RegisterValidation("not_blank", NotBlankValidator)
	v.RegisterValidation("meta_key", MetaKeyValidator)
	v.RegisterValidation("sort_order", SortOrderValidator)
	v.RegisterAlias("activity_content", "not_blank,max_string_length=10000")
	v.RegisterAlias("activity_action", "max_string_length=1200")
	v.RegisterAlias("search_terms", "max_string_length=200")

	v.RegisterStructValidation(ActivityQueryValidator, persist.ActivityQuery{})
}

// ActivityQueryValidator checks the paging and ordering of an activity read
func ActivityQueryValidator(sl validator.StructLevel) {
	q := sl.Current().Interface().(persist.ActivityQuery)

	if q.Page < 0 {
		sl.ReportError(q.Page, "Page", "Page", "min", "0")
	}
	if q.PerPage < 0 || q.PerPage > MaxPerPage {
		sl.ReportError(q.PerPage, "PerPage", "PerPage", "max", strconv.Itoa(MaxPerPage))
	}
	if q.Max < 0 {
		sl.ReportError(q.Max, "Max", "Max", "min", "0")
	}
	if q.Sort != "" && !isSortOrder(string(q.Sort)) {
		sl.ReportError(q.Sort, "Sort", "Sort", "sort_order", "")
	}
}

// MaxStringLengthValidator validates strings with a given maximum length in characters
var MaxStringLengthValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()

	maxLength, err := strconv.Atoi(fl.Param())
	if err != nil {
		panic(fmt.Errorf("error parsing MaxStringLengthValidator parameter: %s", err))
	}

	return utf8.RuneCountInString(s) <= maxLength
}

// NotBlankValidator rejects strings that are empty once markup and whitespace are removed
var NotBlankValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := bluemonday.StrictPolicy().Sanitize(fl.Field().String())
	return strings.TrimSpace(s) != ""
}

// UsernameValidator ensures that handles are not reserved and only use characters a mention can match
var UsernameValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true
	}
	if reservedUsernames[strings.ToLower(s)] {
		return false
	}
	return len(s) >= 2 && len(s) <= 50 &&
		handleRegex.MatchString(s) &&
		!strings.HasSuffix(s, ".")
}

// MetaKeyValidator ensures a key still names something after sanitization
var MetaKeyValidator validator.Func = func(fl validator.FieldLevel) bool {
	return persist.SanitizeMetaKey(fl.Field().String()) != ""
}

var SortOrderValidator validator.Func = func(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == "" || isSortOrder(s)
}

func isSortOrder(s string) bool {
	return strings.EqualFold(s, string(persist.SortAsc)) || strings.EqualFold(s, string(persist.SortDesc))
}
