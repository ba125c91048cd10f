package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/imrishuroy/grant-access/internal/access"
	"github.com/imrishuroy/grant-access/internal/validation"
)

type loader func(ctx context.Context) (adminService, error)

type cli struct {
	load    loader
	adminID string
	svc     adminService
}

func (c *cli) service(cmd *cobra.Command) (adminService, error) {
	if c.svc == nil {
		svc, err := c.load(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("init: %w", err)
		}
		c.svc = svc
	}
	return c.svc, nil
}

func (c *cli) requireAdmin() error {
	if c.adminID == "" {
		return fmt.Errorf("--admin is required")
	}
	return nil
}

func newRootCmd(load loader) *cobra.Command {
	c := &cli{load: load}

	rootCmd := &cobra.Command{
		Use:           "grantctl",
		Short:         "Administer grant-access payment records",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.adminID, "admin", "", "Admin user id recorded on decisions and audit entries")

	rootCmd.AddCommand(
		c.listCmd(),
		c.statsCmd(),
		c.showCmd(),
		c.decideCmd(),
		c.softDeleteCmd(),
		c.restoreCmd(),
		c.deleteCmd(),
		c.bulkDeleteCmd(),
	)
	return rootCmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) listCmd() *cobra.Command {
	var f access.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List payment records, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			page, err := svc.ListPayments(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().StringVar(&f.PaymentStatus, "payment-status", "", "Filter by payment status (pending, succeeded, failed)")
	cmd.Flags().StringVar(&f.AccessStatus, "access-status", "", "Filter by access status (pending, approved, paid, rejected)")
	cmd.Flags().BoolVar(&f.IncludeDeleted, "include-deleted", false, "Include soft-deleted records")
	cmd.Flags().IntVarP(&f.Page, "page", "p", 1, "Page number")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", access.DefaultPageLimit, "Page size")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show payment totals and revenue",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			st, err := svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			cur := strings.ToUpper(st.Currency)
			fmt.Fprintf(w, "Requests:  %d\n", st.TotalRequests)
			fmt.Fprintf(w, "Paid:      %d\n", st.TotalPaid)
			fmt.Fprintf(w, "Pending:   %d\n", st.TotalPending)
			fmt.Fprintf(w, "Failed:    %d\n", st.TotalFailed)
			fmt.Fprintf(w, "Revenue:   %s %.2f\n", cur, float64(st.TotalRevenueCents)/100)
			fmt.Fprintf(w, "Average:   %s %.2f\n", cur, float64(st.AveragePaymentCents)/100)
			return nil
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [request-id]",
		Short: "Show one payment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			row, err := svc.GetRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}
}

func (c *cli) decideCmd() *cobra.Command {
	var body validation.DecisionRequest
	cmd := &cobra.Command{
		Use:   "decide [request-id]",
		Short: "Approve, charge or reject an access request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAdmin(); err != nil {
				return err
			}
			if err := validation.New().Struct(body); err != nil {
				return fmt.Errorf("invalid decision: %w", err)
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			req, err := svc.AdminDecide(cmd.Context(), args[0], body.Action, c.adminID,
				access.DecisionOptions{Notes: body.Notes, ChargeAmountCents: body.ChargeAmountCents()})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
	cmd.Flags().StringVarP(&body.Action, "action", "a", "", "Decision: approve, charge or reject")
	cmd.Flags().Float64Var(&body.ChargeAmount, "amount", 0, "Charge amount in major units, required for charge")
	cmd.Flags().StringVar(&body.Notes, "notes", "", "Notes shown to the agent")
	return cmd
}

func (c *cli) softDeleteCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "soft-delete [request-id]",
		Short: "Hide a payment record and free its listing/agent pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAdmin(); err != nil {
				return err
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			req, err := svc.SoftDelete(cmd.Context(), args[0], c.adminID, reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit history")
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "restore [request-id]",
		Short: "Restore a soft-deleted payment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.requireAdmin(); err != nil {
				return err
			}
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			req, err := svc.Restore(cmd.Context(), args[0], c.adminID, reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit history")
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [request-id]",
		Short: "Permanently delete a payment record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			if err := svc.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) bulkDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete [request-id...]",
		Short: "Permanently delete several payment records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.service(cmd)
			if err != nil {
				return err
			}
			res, err := svc.BulkDelete(cmd.Context(), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
