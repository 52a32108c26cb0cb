package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diagworks/diagcore/internal/override"
)

var (
	overrideScope     string
	overrideModule    string
	overrideAction    string
	overrideReason    string
	overrideDuration  time.Duration
	overrideSessionID string
)

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage admin capability overrides",
	Long:  "Activate, revoke and list the scoped exceptions that bypass the capability matrix",
}

var overrideActivateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Activate a scoped override",
	Long: `Activate an override. Requires the admin role.

Scopes:
  ACTION   one module+action pair
  MODULE   every action on one module, expires after --duration
  SESSION  any action for the rest of the session

Examples:
  diagctl override activate --scope ACTION --module ENGINE --action clear_dtcs --reason "bench verification"
  diagctl override activate --scope MODULE --module ABS --duration 5m --reason "workshop retrofit"`,
	RunE: runOverrideActivate,
}

var overrideRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke the caller's override",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		rt.svc.RevokeOverride(cmd.Context(), actorID, overrideSessionID)
		fmt.Println("Override revoked")
		return nil
	},
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		active := rt.svc.GetActiveOverrides()
		if len(active) == 0 {
			fmt.Println("No active overrides")
			return nil
		}
		return printYAML(active)
	},
}

func init() {
	rootCmd.AddCommand(overrideCmd)
	overrideCmd.AddCommand(overrideActivateCmd)
	overrideCmd.AddCommand(overrideRevokeCmd)
	overrideCmd.AddCommand(overrideListCmd)

	overrideActivateCmd.Flags().StringVar(&overrideScope, "scope", "", "override scope: ACTION, MODULE, SESSION")
	overrideActivateCmd.Flags().StringVar(&overrideModule, "module", "", "target module")
	overrideActivateCmd.Flags().StringVar(&overrideAction, "action", "", "target action")
	overrideActivateCmd.Flags().StringVar(&overrideReason, "reason", "", "reason recorded on the audit trail")
	overrideActivateCmd.Flags().DurationVar(&overrideDuration, "duration", 5*time.Minute, "expiry for MODULE scope")
	overrideActivateCmd.MarkFlagRequired("scope")
	overrideActivateCmd.MarkFlagRequired("reason")

	overrideCmd.PersistentFlags().StringVar(&overrideSessionID, "session", "", "forensic session id the override is bound to")
}

func runOverrideActivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	scope := override.Scope(strings.ToUpper(overrideScope))
	o, err := rt.svc.ActivateOverride(ctx, actor(), scope, overrideModule, overrideAction, overrideReason, overrideDuration, overrideSessionID)
	if err != nil {
		return err
	}
	return printYAML(o)
}
