package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/mikeydub/go-activity/env"
	"github.com/mikeydub/go-activity/server"
	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/mention"
	"github.com/mikeydub/go-activity/service/persist"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type app struct {
	deps     *server.Dependencies
	services server.Services
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "activityctl",
		Short:         "Maintenance tasks for the activity stream",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			server.SetDefaults()
			logger.InitWithDefaults(env.GetString(cmd.Context(), "ENV"))
			a.deps = server.NewDependencies(cmd.Context())
			a.services = server.NewServices(cmd.Context(), a.deps)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.deps.Close()
		},
	}

	root.AddCommand(
		a.rebuildTreeCmd(),
		a.deleteCommentCmd(),
		a.adjustMentionsCmd(),
		a.clearMentionsCmd(),
		a.hideUserCmd(),
	)
	return root
}

func (a *app) rebuildTreeCmd() *cobra.Command {
	var all bool
	var workers int

	cmd := &cobra.Command{
		Use:   "rebuild-tree [root_id...]",
		Short: "Rebuild the stored comment tree of root activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			roots := make([]persist.DBID, len(args))
			for i, arg := range args {
				roots[i] = persist.DBID(arg)
			}
			if all {
				ids, err := a.deps.ActivityStore.CommentRootIDs(ctx)
				if err != nil {
					return err
				}
				roots = append(roots, ids...)
			}
			if len(roots) == 0 {
				return fmt.Errorf("pass root ids or --all")
			}

			return rebuildTrees(ctx, a.services, roots, workers)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "rebuild every root that has comments")
	cmd.Flags().IntVar(&workers, "workers", 10, "number of roots rebuilt concurrently")
	return cmd
}

func rebuildTrees(ctx context.Context, services server.Services, roots []persist.DBID, workers int) error {
	if workers < 1 {
		workers = 1
	}

	wp := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for _, rootID := range roots {
		rootID := rootID
		wp.Go(func(ctx context.Context) error {
			if err := services.Activities.RebuildCommentTree(ctx, rootID); err != nil {
				return fmt.Errorf("rebuilding tree of %s: %w", rootID, err)
			}
			logger.For(ctx).Infof("rebuilt comment tree of %s", rootID)
			return nil
		})
	}
	return wp.Wait()
}

func (a *app) deleteCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-comment <root_id> <comment_id>",
		Short: "Delete a comment and every reply beneath it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.services.Activities.DeleteComment(cmd.Context(), persist.DBID(args[0]), persist.DBID(args[1]))
		},
	}
}

func (a *app) adjustMentionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "adjust-mentions <activity_id> <add|delete>",
		Short: "Add or remove the mentions an activity makes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.services.Mentions.AdjustMentions(cmd.Context(), persist.DBID(args[0]), mention.Action(args[1]))
		},
	}
}

func (a *app) clearMentionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-mentions <user_id>",
		Short: "Reset the new mention list of a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.services.Mentions.ClearMentions(cmd.Context(), persist.DBID(args[0]))
		},
	}
}

func (a *app) hideUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hide-user <user_id>",
		Short: "Hide every activity of a member from the sitewide feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.services.Activities.HideAllForUser(cmd.Context(), persist.DBID(args[0]))
		},
	}
}
