package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diagworks/diagcore/internal/forensic"
)

var (
	sessionVehicleRef  string
	sessionType        string
	sessionExportFmt   string
	sessionUnredacted  bool
	sessionExportScope string
	sessionExportWhy   string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Forensic session commands",
	Long:  "Start, end, verify, list and export tamper-evident forensic sessions",
}

var sessionsStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a forensic session",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		s, err := rt.svc.StartSession(cmd.Context(), actorID, sessionVehicleRef,
			forensic.SessionType(sessionType), sessionExportScope, sessionExportWhy)
		if err != nil {
			return err
		}
		return printYAML(s)
	},
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End a session and seal its integrity hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		s, err := rt.svc.EndSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printYAML(s)
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		sessions, err := rt.svc.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded")
			return nil
		}
		return printYAML(sessions)
	},
}

var sessionsVerifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Verify a session's hash chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.svc.VerifySession(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("verification FAILED: %w", err)
		}
		fmt.Println("Session intact: hash chain and sequence verified")
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a session",
	Long: `Export a stored session for review or compliance handoff.

Raw command and response payloads are redacted unless --unredacted is
given. Formats: structured (yaml), csv, report.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		out, err := rt.svc.ExportSession(cmd.Context(), args[0],
			forensic.Format(sessionExportFmt),
			forensic.ExportOptions{Unredacted: sessionUnredacted})
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsStartCmd)
	sessionsCmd.AddCommand(sessionsEndCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsVerifyCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)

	sessionsStartCmd.Flags().StringVar(&sessionVehicleRef, "vehicle", "", "vehicle reference")
	sessionsStartCmd.Flags().StringVar(&sessionType, "type", string(forensic.SessionDiagnostic), "session type: diagnostic, tuning, review")
	sessionsStartCmd.Flags().StringVar(&sessionExportScope, "override-scope", "", "override scope noted on the session")
	sessionsStartCmd.Flags().StringVar(&sessionExportWhy, "override-reason", "", "override reason noted on the session")
	sessionsStartCmd.MarkFlagRequired("vehicle")

	sessionsExportCmd.Flags().StringVar(&sessionExportFmt, "format", string(forensic.FormatStructured), "export format: structured, csv, report")
	sessionsExportCmd.Flags().BoolVar(&sessionUnredacted, "unredacted", false, "include raw command and response payloads")
}
