package validate

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/mikeydub/go-activity/service/persist"
)

func newValidator() *validator.Validate {
	v := validator.New()
	RegisterCustomValidators(v)
	return v
}

func TestValidators(t *testing.T) {
	v := newValidator()

	t.Run("activity content", func(t *testing.T) {
		assert.NoError(t, v.Var("hello @bob", "activity_content"))
		assert.Error(t, v.Var("   ", "activity_content"))
		assert.Error(t, v.Var("<p> </p>", "activity_content"))
	})

	t.Run("usernames", func(t *testing.T) {
		assert.NoError(t, v.Var("jane-doe", "username"))
		assert.NoError(t, v.Var("j.smith", "username"))
		assert.Error(t, v.Var("mentions", "username"))
		assert.Error(t, v.Var("bob.", "username"))
		assert.Error(t, v.Var("no spaces", "username"))
	})

	t.Run("meta keys", func(t *testing.T) {
		assert.NoError(t, v.Var("favorite_count", "meta_key"))
		assert.Error(t, v.Var("--", "meta_key"))
	})

	t.Run("max string length counts characters", func(t *testing.T) {
		assert.NoError(t, v.Var("héllo", "max_string_length=5"))
		assert.Error(t, v.Var("hello!", "max_string_length=5"))
	})

	t.Run("activity queries", func(t *testing.T) {
		assert.NoError(t, v.Struct(persist.ActivityQuery{Page: 1, PerPage: 20, Sort: "asc"}))
		assert.Error(t, v.Struct(persist.ActivityQuery{PerPage: MaxPerPage + 1}))
		assert.Error(t, v.Struct(persist.ActivityQuery{Page: -1}))
		assert.Error(t, v.Struct(persist.ActivityQuery{Sort: "sideways"}))
	})
}
