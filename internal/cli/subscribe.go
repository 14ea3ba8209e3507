package cli

import (
	"context"
	"fmt"

	"github.com/harun/learnstate/pkg/learnstore"
	"github.com/spf13/cobra"
)

var subscribersCmd = &cobra.Command{
	Use:   "subscribers <id>",
	Short: "List subscribers of a session",
	Long: `List subscribers of a session, one per line.
An unknown session is an error; a session without subscribers prints nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		subscribers, found, err := store.GetSubscribersWithContext(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("id: %s doesn't exist", args[0])
		}
		for _, s := range subscribers {
			fmt.Fprintln(cmd.OutOrStdout(), s)
		}
		return nil
	}),
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <id> <subscriber>",
	Short: "Subscribe to a session",
	Args:  cobra.ExactArgs(2),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		res, err := store.AddSubscriberWithContext(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message())
		return nil
	}),
}

var unsubscribeCmd = &cobra.Command{
	Use:   "unsubscribe <id> <subscriber>",
	Short: "Unsubscribe from a session",
	Args:  cobra.ExactArgs(2),
	RunE: storeCommand(func(ctx context.Context, cmd *cobra.Command, store *learnstore.Store, args []string) error {
		res, err := store.RemoveSubscriberWithContext(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Message())
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(subscribersCmd, subscribeCmd, unsubscribeCmd)
}
