package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var vehiclesCmd = &cobra.Command{
	Use:   "vehicles",
	Short: "Vehicle registry commands",
}

var vehiclesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered vehicles",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer rt.close()

		vehicles, err := rt.repo.ListVehicles(cmd.Context())
		if err != nil {
			return err
		}
		if len(vehicles) == 0 {
			fmt.Println("No vehicles registered")
			return nil
		}
		for _, v := range vehicles {
			fmt.Printf("%s  %-17s %s %s (%d)\n",
				v.ID, v.VIN, v.Attributes.Manufacturer, v.Attributes.Model, v.Attributes.Year)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vehiclesCmd)
	vehiclesCmd.AddCommand(vehiclesListCmd)
}
