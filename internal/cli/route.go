package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	routeDryRun    bool
	routeSessionID string
	routeParams    []string
)

var routeCmd = &cobra.Command{
	Use:   "route <vehicle-id> <module> <service>",
	Short: "Route a diagnostic command through the safety pipeline",
	Long: `Route one diagnostic command for a stored vehicle.

The command is checked against the vehicle's capability template and any
active admin overrides before anything touches the bus. With --dry-run
nothing is sent at all; the result reports what would have happened.

Examples:
  diagctl route veh-123 ENGINE read_dtcs --dry-run
  diagctl route veh-123 ENGINE read_live_data --param data_id=0xF40C
  diagctl route veh-123 ABS clear_dtcs --session 7f0c...`,
	Args: cobra.ExactArgs(3),
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)

	routeCmd.Flags().BoolVar(&routeDryRun, "dry-run", false, "evaluate the full pipeline without touching the bus")
	routeCmd.Flags().StringVar(&routeSessionID, "session", "", "forensic session id to record against")
	routeCmd.Flags().StringArrayVar(&routeParams, "param", nil, "service parameter as key=value (repeatable)")
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	params := make(map[string]string, len(routeParams))
	for _, p := range routeParams {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q, expected key=value", p)
		}
		params[key] = value
	}

	rt, err := newRuntime(ctx, !routeDryRun)
	if err != nil {
		return err
	}
	defer rt.close()

	result, err := rt.svc.RouteRequest(ctx, actor(), args[0], args[1], args[2], routeSessionID, routeDryRun, params)
	if err != nil {
		return err
	}
	return printYAML(result)
}
