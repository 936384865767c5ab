package publicapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/mikeydub/go-activity/service/activity"
	"github.com/mikeydub/go-activity/service/event"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
	"github.com/mikeydub/go-activity/util"
	"github.com/mikeydub/go-activity/validate"
)

const apiContextKey = "publicapi.api"

// Config holds the site settings the API needs to render links.
type Config struct {
	SiteURL string
	Slug    string
}

type PublicAPI struct {
	validator *validator.Validate
	Activity  *ActivityAPI
	Mention   *MentionAPI
	Actions   *ActionRegistry
}

// Deps are the services the API is composed from.
type Deps struct {
	Activities *activity.Service
	Users      persist.UserStore
	Mentions   *mention.Counter
	Locker     mention.Locker
	Hooks      *event.Hooks
	Actions    *ActionRegistry
}

func New(deps Deps, config Config) *PublicAPI {
	v := newValidator()

	if deps.Hooks == nil {
		deps.Hooks = event.NewHooks()
	}
	if deps.Actions == nil {
		deps.Actions = NewActionRegistry()
	}
	if config.Slug == "" {
		config.Slug = "activity"
	}

	return &PublicAPI{
		validator: v,
		Actions:   deps.Actions,
		Activity: &ActivityAPI{
			activities: deps.Activities,
			users:      deps.Users,
			mentions:   deps.Mentions,
			locker:     deps.Locker,
			hooks:      deps.Hooks,
			actions:    deps.Actions,
			validator:  v,
			config:     config,
		},
		Mention: &MentionAPI{
			activities: deps.Activities,
			users:      deps.Users,
			mentions:   deps.Mentions,
			validator:  v,
		},
	}
}

// AddTo attaches api to the request so handlers can reach it with For.
func AddTo(ctx *gin.Context, api *PublicAPI) {
	ctx.Set(apiContextKey, api)
}

func For(ctx context.Context) *PublicAPI {
	gc := util.GinContextFromContext(ctx)
	return gc.Value(apiContextKey).(*PublicAPI)
}

func newValidator() *validator.Validate {
	v := validator.New()
	validate.RegisterCustomValidators(v)
	return v
}

type validationMap map[string]struct {
	value interface{}
	tag   string
}

func validateFields(validator *validator.Validate, fields validationMap) error {
	validationErr := ErrInvalidInput{}
	foundErrors := false

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fields[k]
		err := validator.Var(v.value, v.tag)
		if err != nil {
			foundErrors = true
			validationErr.Append(k, err.Error())
		}
	}

	if foundErrors {
		return validationErr
	}

	return nil
}

type ErrInvalidInput struct {
	Parameters []string
	Reasons    []string
}

func (e *ErrInvalidInput) Append(parameter string, reason string) {
	e.Parameters = append(e.Parameters, parameter)
	e.Reasons = append(e.Reasons, reason)
}

func (e ErrInvalidInput) Error() string {
	str := "invalid input:\n"

	for i := range e.Parameters {
		str += fmt.Sprintf("    parameter: %s, reason: %s\n", e.Parameters[i], e.Reasons[i])
	}

	return str
}
