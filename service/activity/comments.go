package activity

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/persist"
)

// MetaKeyCommentTree is the root activity meta holding its ordered comment tree.
const MetaKeyCommentTree = "comment_tree"

type ErrCommentTooDeep struct {
	CommentID persist.DBID
	MaxDepth  int
}

func (e ErrCommentTooDeep) Error() string {
	return fmt.Sprintf("replies to comment %s are nested deeper than %d levels", e.CommentID, e.MaxDepth)
}

// RebuildCommentTree orders the comments of a root parent before child, siblings oldest first,
// and stores the result on the root. Comments whose parent chain never reaches the root are
// left out.
func (s *Service) RebuildCommentTree(ctx context.Context, rootID persist.DBID) error {
	comments, err := s.commentsOf(ctx, s.Store, rootID)
	if err != nil {
		return err
	}

	tree := buildTree(rootID, comments)

	if len(tree) < len(comments) {
		placed := make(map[persist.DBID]bool, len(tree))
		for _, n := range tree {
			placed[n.ID] = true
		}
		var orphans []persist.DBID
		for _, c := range comments {
			if !placed[c.ID] {
				orphans = append(orphans, c.ID)
			}
		}
		logger.For(ctx).Warnf("comment tree of %s is missing %d orphaned comments: %v", rootID, len(orphans), orphans)
	}

	if len(tree) == 0 {
		return s.Store.DeleteMeta(ctx, rootID, MetaKeyCommentTree)
	}

	v, err := persist.StructuredMeta(tree)
	if err != nil {
		return err
	}
	return s.Store.SetMeta(ctx, rootID, MetaKeyCommentTree, v)
}

// CommentTree returns the stored comment tree of a root, rebuilding it when none is stored.
func (s *Service) CommentTree(ctx context.Context, rootID persist.DBID) ([]persist.CommentNode, error) {
	v, err := s.Store.GetMeta(ctx, rootID, MetaKeyCommentTree)
	if errors.Is(err, persist.ErrNotFound) {
		if err := s.RebuildCommentTree(ctx, rootID); err != nil {
			return nil, err
		}
		v, err = s.Store.GetMeta(ctx, rootID, MetaKeyCommentTree)
		if errors.Is(err, persist.ErrNotFound) {
			return []persist.CommentNode{}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	var tree []persist.CommentNode
	if err := v.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decoding comment tree of %s: %w", rootID, err)
	}
	return tree, nil
}

// DeleteComment removes a comment and every reply below it. Nothing is removed unless the
// comment itself is.
func (s *Service) DeleteComment(ctx context.Context, rootID, commentID persist.DBID) error {
	var removed []persist.Activity

	err := s.Store.WithTx(ctx, func(tx persist.ActivityStore) error {
		comments, err := s.commentsOf(ctx, tx, rootID)
		if err != nil {
			return err
		}

		var target persist.Activity
		found := false
		for _, c := range comments {
			if c.ID == commentID {
				target, found = c, true
				break
			}
		}
		if !found {
			return persist.ErrCommentNotFoundByID{ID: commentID}
		}

		descendants, err := s.descendants(commentID, comments)
		if err != nil {
			return err
		}

		// children go before their parents
		for i := len(descendants) - 1; i >= 0; i-- {
			if err := deleteComment(ctx, tx, descendants[i].ID); err != nil {
				return err
			}
		}
		if err := deleteComment(ctx, tx, commentID); err != nil {
			return err
		}

		removed = append(descendants, target)
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.RebuildCommentTree(ctx, rootID); err != nil {
		logger.For(ctx).WithError(err).Errorf("failed to rebuild comment tree of %s", rootID)
	}
	s.afterDelete(ctx, removed, []persist.DBID{rootID})

	return nil
}

func deleteComment(ctx context.Context, tx persist.ActivityStore, id persist.DBID) error {
	deleted, err := tx.DeleteActivities(ctx, persist.ActivityFilter{
		IDs:   []persist.DBID{id},
		Types: []string{persist.ActivityTypeComment},
	})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return persist.ErrCommentNotFoundByID{ID: id}
	}
	return tx.DeleteMeta(ctx, id)
}

// descendants returns the replies below commentID in preorder.
func (s *Service) descendants(commentID persist.DBID, comments []persist.Activity) ([]persist.Activity, error) {
	children := childrenByParent(comments)

	type frame struct {
		comment persist.Activity
		depth   int
	}

	var out []persist.Activity
	seen := map[persist.DBID]bool{commentID: true}

	stack := make([]frame, 0)
	kids := children[commentID]
	for i := len(kids) - 1; i >= 0; i-- {
		stack = append(stack, frame{comment: kids[i], depth: 1})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[f.comment.ID] {
			continue
		}
		seen[f.comment.ID] = true

		if s.MaxCommentDepth > 0 && f.depth > s.MaxCommentDepth {
			return nil, ErrCommentTooDeep{CommentID: commentID, MaxDepth: s.MaxCommentDepth}
		}

		out = append(out, f.comment)

		kids := children[f.comment.ID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{comment: kids[i], depth: f.depth + 1})
		}
	}

	return out, nil
}

func (s *Service) commentsOf(ctx context.Context, store persist.ActivityStore, rootID persist.DBID) ([]persist.Activity, error) {
	return store.FindActivities(ctx, persist.ActivityQuery{
		Filter: persist.ActivityFilter{
			ItemIDs: []persist.DBID{rootID},
			Types:   []string{persist.ActivityTypeComment},
		},
		ShowHidden: true,
		Sort:       persist.SortAsc,
	})
}

// childrenByParent groups comments by parent. Input order, oldest first, is kept.
func childrenByParent(comments []persist.Activity) map[persist.DBID][]persist.Activity {
	children := make(map[persist.DBID][]persist.Activity)
	for _, c := range comments {
		parent := c.SecondaryItemID
		if parent == "" {
			parent = c.ItemID
		}
		children[parent] = append(children[parent], c)
	}
	return children
}

func buildTree(rootID persist.DBID, comments []persist.Activity) []persist.CommentNode {
	children := childrenByParent(comments)

	tree := make([]persist.CommentNode, 0, len(comments))
	seen := map[persist.DBID]bool{rootID: true}

	stack := make([]persist.CommentNode, 0)
	kids := children[rootID]
	for i := len(kids) - 1; i >= 0; i-- {
		stack = append(stack, persist.CommentNode{ID: kids[i].ID, ParentID: rootID, Depth: 1})
	}

	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		tree = append(tree, n)

		kids := children[n.ID]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, persist.CommentNode{ID: kids[i].ID, ParentID: n.ID, Depth: n.Depth + 1})
		}
	}

	return tree
}
