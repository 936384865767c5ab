package env

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/mikeydub/go-activity/service/logger"
)

var validators = map[string][]string{}

var v = validator.New()

var validatorsMu = &sync.Mutex{}

func init() {
	v.RegisterValidation("required_for_env", RequiredForEnv)
}

// RegisterValidation attaches validator tags to an env var. Tags are checked every time the var is read.
func RegisterValidation(name string, tags ...string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	validators[name] = dedupe(append(validators[name], tags...))
}

func Get[T any](ctx context.Context, name string) T {
	it, _ := GetIfExists[T](ctx, name)
	return it
}

func GetIfExists[T any](ctx context.Context, name string) (T, bool) {
	validate(ctx, name)

	if !viper.IsSet(name) {
		return *new(T), false
	}

	it, ok := viper.Get(name).(T)
	if !ok {
		logger.For(ctx).Errorf("invalid env var: %s, expected type: %T", name, it)
		return *new(T), false
	}

	return it, true
}

// The getters below go through viper's casting helpers because values read from the
// environment are always strings.

func GetString(ctx context.Context, name string) string {
	validate(ctx, name)
	return viper.GetString(name)
}

func GetInt(ctx context.Context, name string) int {
	validate(ctx, name)
	return viper.GetInt(name)
}

func GetBool(ctx context.Context, name string) bool {
	validate(ctx, name)
	return viper.GetBool(name)
}

func GetDuration(ctx context.Context, name string) time.Duration {
	validate(ctx, name)
	return viper.GetDuration(name)
}

// GetStringSlice splits comma separated values, dropping empty entries.
func GetStringSlice(ctx context.Context, name string) []string {
	validate(ctx, name)
	var out []string
	for _, s := range strings.Split(viper.GetString(name), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validate(ctx context.Context, name string) {
	validatorsMu.Lock()
	defer validatorsMu.Unlock()
	for _, tag := range validators[name] {
		err := v.Var(viper.GetString(name), tag)
		if err != nil {
			logger.For(ctx).Errorf("invalid env var: %s, tag: %s, err: %s", name, tag, err.Error())
		}
	}
}

// RequiredForEnv fails when the field is empty and ENV matches the tag parameter, e.g. `required_for_env=production`.
var RequiredForEnv validator.Func = func(fl validator.FieldLevel) bool {
	if fl.Field().String() != "" {
		return true
	}
	return fl.Param() != viper.GetString("ENV")
}

func dedupe(src []string) []string {
	result := src[:0]

	seen := make(map[string]bool)
	for _, x := range src {
		if !seen[x] {
			result = append(result, x)
			seen[x] = true
		}
	}
	return result
}
