package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/flock/pkg/database"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/rbac"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeApp(a, opts.log)
			opts.log.Info("Migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeApp(a, opts.log)

			v, err := database.MigrationStatus(a.DB.Primary(), a.DB.Driver(), a.Logger)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"version": v})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return err
		},
	})
	return cmd
}

func newSyncMemberCmd(opts *rootOptions) *cobra.Command {
	var (
		tenantID, memberID, branchID      string
		location, dob, profession, gender string
	)

	cmd := &cobra.Command{
		Use:   "sync-member",
		Short: "Run community sync for one member",
		Long:  "Runs the community sync for a member as if the given profile attributes had just changed. Only flags that are set count as changes.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var changes members.ProfileChanges
			flags := cmd.Flags()
			if flags.Changed("location") {
				changes.Location = &location
			}
			if flags.Changed("dob") {
				changes.DateOfBirth = &dob
			}
			if flags.Changed("profession") {
				changes.Profession = &profession
			}
			if flags.Changed("gender") {
				changes.Gender = &gender
			}
			var branch *string
			if branchID != "" {
				branch = &branchID
			}

			a, err := opts.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeApp(a, opts.log)

			steps := a.Orchestrator.SyncCommunity(cmd.Context(), tenantID, memberID, changes, branch)
			failed := 0
			for _, s := range steps {
				if !s.Success {
					failed++
				}
			}
			opts.log.WithFields(logrus.Fields{
				"tenant": tenantID,
				"member": memberID,
				"steps":  len(steps),
				"failed": failed,
			}).Info("Sync finished")

			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), steps)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "STEP\tOK\tMESSAGE")
			for _, s := range steps {
				fmt.Fprintf(w, "%s\t%t\t%s\n", s.Step, s.Success, s.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&memberID, "member", "", "Member id (required)")
	cmd.Flags().StringVar(&branchID, "branch", "", "Branch id")
	cmd.Flags().StringVar(&location, "location", "", "Changed location")
	cmd.Flags().StringVar(&dob, "dob", "", "Changed date of birth (YYYY-MM-DD)")
	cmd.Flags().StringVar(&profession, "profession", "", "Changed profession")
	cmd.Flags().StringVar(&gender, "gender", "", "Changed gender")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}

func newPermissionsCmd(opts *rootOptions) *cobra.Command {
	var (
		tenantID, userID string
		q                rbac.EffectiveQuery
	)

	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Print a user's effective permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeApp(a, opts.log)

			perms, err := a.Permissions.GetEffectivePermissions(cmd.Context(), tenantID, userID, q)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), perms)
			}
			if len(perms) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no effective permissions")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "MODULE\tACTION\tSOURCE\tGRANT\tROLE\tEXPIRES")
			for _, p := range perms {
				role := "-"
				if p.RoleCode != nil {
					role = *p.RoleCode
				}
				expires := "-"
				if p.ExpiresAt != nil {
					expires = p.ExpiresAt.UTC().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					p.Module, p.Action, strings.ToLower(string(p.Source)), p.GrantType, role, expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant id (required)")
	cmd.Flags().StringVar(&userID, "user", "", "User id (required)")
	cmd.Flags().StringVar(&q.Module, "module", "", "Only permissions of this module")
	cmd.Flags().BoolVar(&q.IncludeInactive, "include-inactive", false, "Include inactive roles and grants")
	cmd.Flags().BoolVar(&q.IncludeExpired, "include-expired", false, "Include expired assignments")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-expired",
		Short: "Deactivate expired role assignments, grants and overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.openApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeApp(a, opts.log)

			res, err := a.RBAC.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"assignments=%d grants=%d overrides=%d users=%d tenants=%d\n",
				res.Assignments, res.Grants, res.Overrides, res.Users, res.Tenants)
			return err
		},
	}
}
