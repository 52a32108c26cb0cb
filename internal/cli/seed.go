package cli

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/diagworks/diagcore/internal/capability"
	"github.com/diagworks/diagcore/internal/models"
	"github.com/diagworks/diagcore/internal/router"
)

var (
	seedVehicles int
	seedSeed     int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed bench data",
	Long: `Generate vehicles and capability templates for bench work.

Each seeded manufacturer gets a template with a plausible support mix so
routed commands exercise SUPPORTED, LIMITED and NOT_SUPPORTED paths.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().IntVar(&seedVehicles, "vehicles", 10, "number of vehicles to create")
	seedCmd.Flags().Int64Var(&seedSeed, "seed", 0, "random seed (0 = random)")
}

// benchModules is the module set every seeded vehicle carries, with the
// usual OBD request/response id pairing.
var benchModules = map[string]models.ModuleAddress{
	router.ModuleEngine:       {Request: 0x7E0, Response: 0x7E8},
	router.ModuleTransmission: {Request: 0x7E1, Response: 0x7E9},
	router.ModuleABS:          {Request: 0x760, Response: 0x768},
	router.ModuleBody:         {Request: 0x726, Response: 0x72E},
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if seedSeed != 0 {
		gofakeit.Seed(seedSeed)
	}

	rt, err := newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.close()

	manufacturers := make(map[string]bool)
	for i := 0; i < seedVehicles; i++ {
		car := gofakeit.Car()
		vehicle := &models.Vehicle{
			ID:  uuid.New().String(),
			VIN: fakeVIN(),
			Attributes: capability.VehicleAttributes{
				Manufacturer: car.Brand,
				Model:        car.Model,
				Year:         gofakeit.Number(2008, 2026),
				Engine:       car.Fuel,
				Transmission: car.Transmission,
			},
			Modules: benchModules,
		}
		if err := rt.repo.CreateVehicle(ctx, vehicle); err != nil {
			return fmt.Errorf("create vehicle: %w", err)
		}
		manufacturers[car.Brand] = true
		fmt.Printf("  vehicle %s  %s %s (%d)\n", vehicle.ID[:8], car.Brand, car.Model, vehicle.Attributes.Year)
	}

	for brand := range manufacturers {
		if err := rt.repo.CreateTemplate(ctx, benchTemplate(brand)); err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		fmt.Printf("  template %s\n", brand)
	}

	fmt.Printf("\nSeeded %d vehicles, %d templates\n", seedVehicles, len(manufacturers))
	return nil
}

// fakeVIN builds a 17-character VIN-shaped identifier.
func fakeVIN() string {
	return strings.ToUpper(gofakeit.LetterN(3)) + gofakeit.Numerify("##############")
}

// benchTemplate grants reads broadly, limits live data on chassis
// modules and withholds clears on the body controller.
func benchTemplate(manufacturer string) *capability.Template {
	supported := capability.Support{Status: capability.StatusSupported}
	return &capability.Template{
		Name:  fmt.Sprintf("%s-bench", strings.ToLower(manufacturer)),
		Match: capability.Matcher{Manufacturer: manufacturer},
		Modules: map[string]capability.ModuleSupport{
			router.ModuleEngine: {
				Support: supported,
				Services: map[string]capability.Support{
					router.ServiceReadDTCs:     supported,
					router.ServiceClearDTCs:    supported,
					router.ServiceReadLiveData: supported,
				},
			},
			router.ModuleTransmission: {
				Support: supported,
				Services: map[string]capability.Support{
					router.ServiceReadDTCs: supported,
					router.ServiceReadLiveData: {
						Status: capability.StatusLimited,
						Reason: "reduced identifier set on this platform",
					},
				},
			},
			router.ModuleABS: {
				Support: supported,
				Services: map[string]capability.Support{
					router.ServiceReadDTCs: supported,
					router.ServiceClearDTCs: {
						Status: capability.StatusNotSupported,
						Reason: "chassis clears require manufacturer tooling",
					},
				},
			},
			router.ModuleBody: {
				Support: capability.Support{
					Status: capability.StatusLimited,
					Reason: "body controller verified read-only",
				},
				Services: map[string]capability.Support{
					router.ServiceReadDTCs: supported,
				},
			},
		},
	}
}
