package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gogogo1024/reportgate/services/reportaccess/internal/access"
)

func (c *cli) createReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-report [key]",
		Short: "Register a report; a uuid key is generated when none is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := uuid.NewString()
			if len(args) == 1 {
				key = args[0]
			}
			if err := c.service.CreateReport(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func (c *cli) deleteReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-report <key>",
		Short: "Delete a report and its access policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.service.DeleteReport(cmd.Context(), args[0])
		},
	}
}

func (c *cli) setCmd() *cobra.Command {
	var (
		public    bool
		expiresAt string
		expiresIn time.Duration
		password  string
		emails    []string
		maxAccess int64
		curAccess int64
	)

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Replace the access policy of a report",
		Long: `Replace the access policy of a report. Flags that are not given leave the
corresponding restriction off; --public defaults to false.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var s access.Settings
			if flags.Changed("public") {
				s.IsPublic = &public
			}
			switch {
			case flags.Changed("expires-at") && flags.Changed("expires-in"):
				return fmt.Errorf("--expires-at and --expires-in are mutually exclusive")
			case flags.Changed("expires-at"):
				t, err := time.Parse(time.RFC3339, expiresAt)
				if err != nil {
					return fmt.Errorf("--expires-at must be RFC3339: %w", err)
				}
				s.ExpiresAt = &t
			case flags.Changed("expires-in"):
				t := time.Now().Add(expiresIn)
				s.ExpiresAt = &t
			}
			if flags.Changed("password") {
				s.AccessPassword = &password
			}
			s.AllowedEmails = emails
			if flags.Changed("max-access") {
				s.MaxAccessCount = &maxAccess
			}
			if flags.Changed("current-access") {
				s.CurrentAccessCount = &curAccess
			}

			p, err := c.service.SetPolicy(cmd.Context(), args[0], s)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), redacted(p))
		},
	}

	cmd.Flags().BoolVar(&public, "public", false, "Allow access through the share link")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "Expiry time (RFC3339)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expiry relative to now, e.g. 72h")
	cmd.Flags().StringVar(&password, "password", "", "Require this access password")
	cmd.Flags().StringSliceVar(&emails, "email", nil, "Allowed requester email (repeatable)")
	cmd.Flags().Int64Var(&maxAccess, "max-access", 0, "Maximum number of granted accesses")
	cmd.Flags().Int64Var(&curAccess, "current-access", 0, "Initial access counter")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the access policy of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exists, err := c.service.Store().ReportExists(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !exists {
				return access.ErrNotFound
			}
			return printJSON(cmd.OutOrStdout(), redacted(c.service.GetPolicy(cmd.Context(), args[0])))
		},
	}
}

func (c *cli) checkCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "check <key>",
		Short: "Evaluate access for a requester without counting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := c.service.CheckAccess(cmd.Context(), args[0],
				optional(cmd, "email", email), optional(cmd, "password", password))
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Requester email")
	cmd.Flags().StringVar(&password, "password", "", "Supplied password")
	return cmd
}

func (c *cli) recordCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "record <key>",
		Short: "Count one granted access",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := c.service.RecordAccess(cmd.Context(), args[0], optional(cmd, "email", email))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Requester email, for the log")
	return cmd
}

func (c *cli) openCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "open <key>",
		Short: "Check access and count it when granted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := c.service.OpenReport(cmd.Context(), args[0],
				optional(cmd, "email", email), optional(cmd, "password", password))
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Requester email")
	cmd.Flags().StringVar(&password, "password", "", "Supplied password")
	return cmd
}

func (c *cli) removeCmd() *cobra.Command {
	var bestEffort bool
	cmd := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove the access policy of a report, leaving it unrestricted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bestEffort {
				res := c.service.TryRemovePolicy(cmd.Context(), args[0])
				fmt.Fprintln(cmd.OutOrStdout(), res.Status)
				return nil
			}
			return c.service.RemovePolicy(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "Report failures instead of returning them")
	return cmd
}

// optional maps an unset flag to nil so "not supplied" differs from "empty".
func optional(cmd *cobra.Command, name, v string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func redacted(p *access.Policy) *access.Policy {
	if p == nil || p.AccessPassword == nil {
		return p
	}
	out := p.Clone()
	mask := "********"
	out.AccessPassword = &mask
	return out
}
