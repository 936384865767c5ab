package persist

import (
	"fmt"
)

// CommentNode is one entry of a root activity's comment tree. Depth is 1 for comments that reply
// to the root directly.
type CommentNode struct {
	ID       DBID `json:"id"`
	ParentID DBID `json:"parent_id"`
	Depth    int  `json:"depth"`
}

var errCommentNotFound ErrCommentNotFound

type ErrCommentNotFound struct{}

func (e ErrCommentNotFound) Unwrap() error { return notFoundError }
func (e ErrCommentNotFound) Error() string { return "comment not found" }

type ErrCommentNotFoundByID struct{ ID DBID }

func (e ErrCommentNotFoundByID) Unwrap() error { return errCommentNotFound }
func (e ErrCommentNotFoundByID) Error() string {
	return fmt.Sprintf("comment not found by id=%s", e.ID)
}
