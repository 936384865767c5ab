package util

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/mikeydub/go-activity/service/logger"
)

const GinContextKey string = "GinContextKey"

// ErrorAs reports whether err, or any error in its chain, is of type T.
func ErrorAs[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// ToPointer returns a pointer to the given value
func ToPointer[T any](v T) *T {
	return &v
}

// Dedupe removes duplicate elements from src, keeping the first occurrence of each element.
// If filterInPlace is true, src's backing array is reused.
func Dedupe[T comparable](src []T, filterInPlace bool) []T {
	var result []T
	if filterInPlace {
		result = src[:0]
	} else {
		result = make([]T, 0, len(src))
	}

	seen := make(map[T]bool, len(src))
	for _, x := range src {
		if !seen[x] {
			result = append(result, x)
			seen[x] = true
		}
	}
	return result
}

// Contains checks whether an item exists in a slice
func Contains[T comparable](s []T, str T) bool {
	for _, v := range s {
		if v == str {
			return true
		}
	}
	return false
}

// GinContextFromContext retrieves a gin.Context previously stored in the request context via the GinContextToContext middleware,
// or panics if no gin.Context can be retrieved.
func GinContextFromContext(ctx context.Context) *gin.Context {
	// If the current context is already a gin context, return it
	if gc, ok := ctx.(*gin.Context); ok {
		return gc
	}

	ginContext := ctx.Value(GinContextKey)
	if ginContext == nil {
		panic("gin.Context not found in current context")
	}

	gc, ok := ginContext.(*gin.Context)
	if !ok {
		panic("gin.Context has wrong type")
	}

	return gc
}

// FindFile finds a file relative to the working directory by searching outer directories up to searchDepth
func FindFile(f string, searchDepth int) (string, error) {
	if _, err := os.Stat(f); err == nil {
		return f, nil
	}

	for i := 0; i < searchDepth; i++ {
		f = filepath.Join("..", f)
		if _, err := os.Stat(f); err == nil {
			return f, nil
		}
	}

	return "", fmt.Errorf("could not find file '%s' in path", f)
}

// LoadEnvFile configures the environment with the configured input file.
func LoadEnvFile(fileName string) {
	if viper.GetString("ENV") != "local" {
		logger.For(nil).Info("running in non-local environment, skipping environment configuration")
		return
	}

	// Tests can run from directories deeper in the source tree, so we need to search parent directories to find this config file
	filePath := filepath.Join("_local", fileName)
	path, err := FindFile(filePath, 5)
	if err != nil {
		logger.For(nil).Infof("no local config found at %s, using defaults", filePath)
		return
	}

	logger.For(nil).Infof("configuring environment with settings from %s", path)
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Sprintf("error reading viper config: %s", err))
	}
}
