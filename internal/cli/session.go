package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/learnstate/pkg/learnstore"
	"github.com/spf13/cobra"
)

var newCmd = &cobra.Command{
	Use:   "new [info]",
	Short: "Create a session with a generated ID",
	Long:  `Create a session with a generated ID and optional info, then print the ID.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		id, err := learnstore.NewSessionID()
		if err != nil {
			return fmt.Errorf("failed to generate session ID: %w", err)
		}

		var info string
		if len(args) == 1 {
			info = args[0]
		}
		if err := store.SetInfoWithContext(ctx, id, info); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Read or update session info",
}

var infoSetCmd = &cobra.Command{
	Use:   "set <id> [info]",
	Short: "Set session info, creating the session if needed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		var info string
		if len(args) == 2 {
			info = args[1]
		}
		return store.SetInfoWithContext(ctx, args[0], info)
	}),
}

var infoGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print session info (empty for unknown sessions)",
	Args:  cobra.ExactArgs(1),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		info, err := store.GetInfoWithContext(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), info)
		return nil
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		err := store.DeleteSessionWithContext(ctx, args[0])
		if errors.Is(err, learnstore.ErrSessionNotFound) {
			return fmt.Errorf("id: %s doesn't exist", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	}),
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List session IDs",
	Args:  cobra.NoArgs,
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		ids, err := store.ListSessionsWithContext(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	}),
}

func init() {
	infoCmd.AddCommand(infoSetCmd, infoGetCmd)
	rootCmd.AddCommand(newCmd, infoCmd, deleteCmd, listCmd)
}
