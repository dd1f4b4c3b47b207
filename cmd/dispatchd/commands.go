package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sirenlab/dispatchd/internal/geo"
	"github.com/sirenlab/dispatchd/internal/mock"
	"github.com/sirenlab/dispatchd/internal/models"
	"github.com/sirenlab/dispatchd/internal/traffic/feed"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo fleet",
	Run: func(cmd *cobra.Command, args []string) {
		s := buildStack()
		defer s.store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sum, err := mock.Seed(ctx, s.store)
		if err != nil {
			log.Error().Err(err).Msg("Seeding failed")
			os.Exit(1)
		}
		fmt.Printf("Seeded %s\n", sum)
	},
}

var syncFeedCmd = &cobra.Command{
	Use:   "sync-feed",
	Short: "Mirror street closures, traffic counts and parking from the city transport feed",
	Run: func(cmd *cobra.Command, args []string) {
		s := buildStack()
		defer s.store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		client := feed.NewClient(s.cfg.TransportFeedURL, s.store, log.Logger)
		result, err := client.SyncAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Feed sync failed")
			os.Exit(1)
		}
		fmt.Printf("Synced %d closures, %d traffic counts, %d parking spots\n",
			result.Closures, result.Counts, result.Parking)
	},
}

var (
	reportAddress string
	reportLat     float64
	reportLon     float64
	reportPlan    bool
)

var reportCmd = &cobra.Command{
	Use:   "report [description]",
	Short: "Report an incident from the command line",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		description := strings.TrimSpace(strings.Join(args, " "))
		if description == "" {
			fmt.Fprintln(os.Stderr, "Error: description is required")
			os.Exit(exitValidation)
		}
		if !cmd.Flags().Changed("lat") || !cmd.Flags().Changed("lon") {
			fmt.Fprintln(os.Stderr, "Error: --lat and --lon are required (no geocoder is configured for CLI ingress)")
			os.Exit(exitValidation)
		}

		s := buildStack()
		defer s.store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		inc := &models.Incident{
			Description: description,
			Address:     reportAddress,
			Location:    &geo.Point{Lat: reportLat, Lon: reportLon},
			Status:      models.IncidentPending,
		}
		inc.ApplyCode(models.CodeGreen)
		if err := s.store.CreateIncident(ctx, inc); err != nil {
			log.Error().Err(err).Msg("Failed to create incident")
			os.Exit(1)
		}

		if reportPlan {
			result, err := s.planner.Plan(ctx, inc.ID)
			if err != nil {
				log.Error().Err(err).Msg("Planning failed")
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(result, "", "  ")
			fmt.Println(string(out))
			return
		}
		fmt.Printf("Incident %s created (id %d)\n", inc.PublicID, inc.ID)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportAddress, "address", "", "street address of the incident")
	reportCmd.Flags().Float64Var(&reportLat, "lat", 0, "incident latitude")
	reportCmd.Flags().Float64Var(&reportLon, "lon", 0, "incident longitude")
	reportCmd.Flags().BoolVar(&reportPlan, "plan", false, "run the dispatch pipeline immediately")
}
