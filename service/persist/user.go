package persist

import (
	"fmt"
	"time"
)

// User is the slice of a member account the activity stream needs: an id and the handle
// mentions resolve against.
type User struct {
	ID          DBID      `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

var errUserNotFound ErrUserNotFound

type ErrUserNotFound struct{}

func (e ErrUserNotFound) Unwrap() error { return notFoundError }
func (e ErrUserNotFound) Error() string { return "user not found" }

type ErrUserNotFoundByID struct{ ID DBID }

func (e ErrUserNotFoundByID) Unwrap() error { return errUserNotFound }
func (e ErrUserNotFoundByID) Error() string {
	return fmt.Sprintf("user not found by id=%s", e.ID)
}

type ErrUserNotFoundByUsername struct{ Username string }

func (e ErrUserNotFoundByUsername) Unwrap() error { return errUserNotFound }
func (e ErrUserNotFoundByUsername) Error() string {
	return fmt.Sprintf("user not found by username=%s", e.Username)
}
