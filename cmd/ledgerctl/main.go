package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/boliseva-loan-ledger/internal/app"
	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli holds the node opened for the running command
type cli struct {
	configName string
	verbose    bool
	node       *app.Node
}

func rootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operate the loan ledger node's local store and sync queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.node == nil {
				return nil
			}
			return c.node.Close(context.Background())
		},
	}

	root.PersistentFlags().StringVarP(&c.configName, "config", "c", "ledger_api", "config file name without the .env suffix")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(c.queueCmd())
	root.AddCommand(c.drainCmd())
	root.AddCommand(c.sweepCmd())
	root.AddCommand(c.backfillCmd())
	root.AddCommand(c.quoteCmd())
	return root
}

func (c *cli) open(ctx context.Context) error {
	cfg, err := config.LoadConfig(c.configName)
	if err != nil {
		return err
	}

	cfg.Logging.Level = "warn"
	if c.verbose {
		cfg.Logging.Level = "debug"
	}
	log := logger.New(os.Stderr, cfg)

	c.node, err = app.New(ctx, cfg, log)
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair queued actions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List actions waiting to sync, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions, err := c.node.Queue.Pending(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(actions)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			actions, err := c.node.Queue.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(actions)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue [id]",
		Short: "Move a dead-lettered action back to the end of the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id %q", args[0])
			}
			action, err := c.node.Queue.Requeue(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(action)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "abandon [id]",
		Short: "Give up on a dead-lettered action and release its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id %q", args[0])
			}
			action, err := c.node.Queue.Abandon(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(action)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count pending and dead-lettered actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(c.node.Commands.QueueStatus(cmd.Context()))
		},
	})

	return cmd
}

func (c *cli) drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued actions against the remote ledger now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(c.node.Commands.DrainQueue(cmd.Context()))
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark unpaid installments past their due date as overdue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(c.node.Commands.SweepOverdue(cmd.Context()))
		},
	}
}

func (c *cli) backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill [user-id...]",
		Short: "Create missing EMI schedules; without arguments every cached borrower is checked",
		RunE: func(cmd *cobra.Command, args []string) error {
			users := args
			if len(users) == 0 {
				var err error
				if users, err = c.node.LoanCache.Users(cmd.Context()); err != nil {
					return err
				}
			}
			created, err := c.node.Reconciler.BackfillUsers(cmd.Context(), users)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"users": len(users), "schedules_created": created})
		},
	}
}

func (c *cli) quoteCmd() *cobra.Command {
	var (
		principal int64
		rate      float64
		tenure    int
	)
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Preview the EMI schedule of a loan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(c.node.Commands.Quote(principal, rate, tenure))
		},
	}
	cmd.Flags().Int64VarP(&principal, "principal", "p", 0, "loan amount in whole rupees")
	cmd.Flags().Float64VarP(&rate, "rate", "r", 0, "annual interest rate in percent")
	cmd.Flags().IntVarP(&tenure, "tenure", "t", 0, "tenure in months, 0 for the product default")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}
