// surplusctl is the operator CLI: founders-slot seeding, attorney
// verification review, and manual lifecycle sweeps, run against the same
// SQLite store the server uses.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/surplustrust/platform/internal/auditlog"
	"github.com/surplustrust/platform/internal/lead"
	"github.com/surplustrust/platform/internal/lifecycle"
	"github.com/surplustrust/platform/internal/store"
	"github.com/surplustrust/platform/internal/users"
	"github.com/surplustrust/platform/internal/wallet"
)

var storePath string

func main() {
	root := &cobra.Command{
		Use:   "surplusctl",
		Short: "Operator commands for the surplus-lead platform",
	}
	root.PersistentFlags().StringVar(&storePath, "store", "surplustrust.db", "path to the SQLite store")

	root.AddCommand(
		attorneyApproveCmd(),
		attorneyRejectCmd(),
		foundersClaimCmd(),
		sweepCmd(),
		verifyLedgerCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*store.Store, error) {
	st, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}

func attorneyApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attorney-approve <user-id>",
		Short: "Approve a pending attorney verification request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger := zap.NewNop()
			userRepo := users.NewRepository(st.DB)
			svc := users.NewService(userRepo, nil, logger)
			if err := svc.ApproveAttorney(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("approve attorney: %w", err)
			}
			fmt.Printf("attorney verification approved for %s\n", args[0])
			return nil
		},
	}
}

func attorneyRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attorney-reject <user-id>",
		Short: "Reject a pending attorney verification request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger := zap.NewNop()
			userRepo := users.NewRepository(st.DB)
			svc := users.NewService(userRepo, nil, logger)
			if err := svc.RejectAttorney(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("reject attorney: %w", err)
			}
			fmt.Printf("attorney verification rejected for %s\n", args[0])
			return nil
		},
	}
}

func foundersClaimCmd() *cobra.Command {
	var capacity int
	cmd := &cobra.Command{
		Use:   "founders-claim <user-id>",
		Short: "Manually claim a founders-rate wallet slot for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			audit, err := auditlog.NewSQLiteLog(st.DB, st.Tx, zap.NewNop())
			if err != nil {
				return fmt.Errorf("init audit log: %w", err)
			}
			walletE := wallet.New(st, audit)
			if err := walletE.ClaimFoundersSlot(cmd.Context(), args[0], capacity); err != nil {
				return fmt.Errorf("claim founders slot: %w", err)
			}
			fmt.Printf("founders slot claimed for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&capacity, "capacity", 100, "total founders-rate capacity")
	return cmd
}

func sweepCmd() *cobra.Command {
	var restrictionMonths int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single lifecycle sweep (re-grade, quarantine, demote) immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			logger, _ := zap.NewProduction()
			defer logger.Sync() //nolint:errcheck

			audit, err := auditlog.NewSQLiteLog(st.DB, st.Tx, logger)
			if err != nil {
				return fmt.Errorf("init audit log: %w", err)
			}

			leadRepo := lead.NewRepository(st.DB)
			engine := lifecycle.New(leadRepo, audit, lifecycle.RealClock{}, lifecycle.PortalCounties{}, lifecycle.Config{
				RestrictionMonths: restrictionMonths,
			}, logger)

			if err := engine.Sweep(cmd.Context()); err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Println("lifecycle sweep complete")
			return nil
		},
	}
	cmd.Flags().IntVar(&restrictionMonths, "restriction-months", lifecycle.DefaultRestrictionMonths, "restriction window in calendar months")
	return cmd
}

func verifyLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-ledger",
		Short: "Walk the pipeline-event hash chain and report whether it is intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			audit, err := auditlog.NewSQLiteLog(st.DB, st.Tx, zap.NewNop())
			if err != nil {
				return fmt.Errorf("init audit log: %w", err)
			}

			if err := audit.Verify(cmd.Context()); err != nil {
				return fmt.Errorf("chain integrity check failed: %w", err)
			}

			n, err := audit.Len(cmd.Context())
			if err != nil {
				return err
			}
			root, err := audit.Root(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("chain OK: %d entries, root %s\n", n, root)
			return nil
		},
	}
}
