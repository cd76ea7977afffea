package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/relationships"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var storeKind string

	root := &cobra.Command{
		Use:           "fern",
		Short:         "Mirror a remote content space into a local store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&storeKind, "store", storePostgres, "local store: postgres or memory")

	root.AddCommand(
		newServeCmd(&storeKind),
		newSyncCmd(&storeKind),
		newResetCmd(&storeKind),
		newEdgesCmd(),
	)
	return root
}

func newServeCmd(storeKind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(*storeKind)
			if err != nil {
				return err
			}
			a.addServing()
			defer a.stop()

			if err := a.start(ctx); err != nil {
				return err
			}
			a.checker.SetReady(true)
			a.logger.Infof("%s %s started", a.cfg.AppName, a.cfg.Version)

			<-ctx.Done()
			a.checker.SetReady(false)
			a.logger.Info("Shutting down")
			return nil
		},
	}
}

func newSyncCmd(storeKind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle and print its outcome",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), *storeKind, func(ctx context.Context, a *app) error {
				outcome, err := a.scheduler.RunOnce(ctx)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), outcome)
			})
		},
	}
}

func newResetCmd(storeKind *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Wipe the local store so the next sync starts from scratch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOnce(cmd.Context(), *storeKind, func(ctx context.Context, a *app) error {
				if err := a.scheduler.Reset(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "local store reset")
				return nil
			})
		},
	}
}

func newEdgesCmd() *cobra.Command {
	var snapshot string

	cmd := &cobra.Command{
		Use:   "edges <childID>",
		Short: "List the relationships that reference a child record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			durable := relationships.NewStore(snapshot, logging.Nop())
			return writeJSON(cmd.OutOrStdout(), durable.RelationshipsFor(args[0]))
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "data/relationships.bson", "path of the relationship snapshot")
	return cmd
}

func runOnce(ctx context.Context, storeKind string, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(storeKind)
	if err != nil {
		return err
	}
	defer a.stop()

	if err := a.start(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
