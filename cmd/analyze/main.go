package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	configsqlite "rectrack-backend/lib/configutil/sqlite"
	"rectrack-backend/services/tracker"
	trackerdb "rectrack-backend/services/tracker/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var flags struct {
	db       string
	facility string
	all      bool
	days     int
	top      int
}

var rootCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Recommend the best times to visit a facility based on collected data",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := configsqlite.Struct{File: flags.db}.OpenDB(trackerdb.Schema)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		store := tracker.NewStore(db)
		agg := tracker.NewAggregator(store)

		if flags.all {
			facilities, err := store.ListFacilities(ctx)
			if err != nil {
				return err
			}
			if len(facilities) == 0 {
				fmt.Println("No facilities found in database. Run collectord first to gather data.")
				return nil
			}
			for _, facility := range facilities {
				err = printRecommendations(ctx, store, agg, facility)
				if err != nil {
					return err
				}
			}
			return nil
		}

		if flags.facility != "" {
			return printRecommendations(ctx, store, agg, flags.facility)
		}

		facilities, err := store.ListFacilities(ctx)
		if err != nil {
			return err
		}
		if len(facilities) == 0 {
			fmt.Println("No facilities found in database. Run collectord first to gather data.")
			return nil
		}
		fmt.Println("Available facilities:")
		for _, facility := range facilities {
			fmt.Printf("  - %s\n", facility)
		}
		fmt.Println("\nUse --facility <name> to analyze one, or --all for all of them.")
		return nil
	},
}

func printRecommendations(ctx context.Context, store tracker.Store, agg tracker.Aggregator, facility string) error {
	readings, err := store.Query(ctx, facility, tracker.Window{})
	if err != nil {
		return err
	}

	fmt.Printf("\nRecommendations for: %s (last %d days)\n", facility, flags.days)
	if len(readings) == 0 {
		fmt.Println("No data yet for this facility.")
		return nil
	}
	fmt.Printf("Total data points collected: %d\n\n", len(readings))

	best, err := agg.BestSlots(ctx, facility, flags.days, flags.top)
	if err != nil {
		return err
	}
	printSlots("BEST TIMES TO VISIT (lowest occupancy)", best)

	worst, err := agg.WorstSlots(ctx, facility, flags.days, flags.top)
	if err != nil {
		return err
	}
	printSlots("WORST TIMES TO VISIT (highest occupancy)", worst)

	daily, err := agg.DailyPattern(ctx, facility, flags.days)
	if err != nil {
		return err
	}
	if len(daily) > 0 {
		t := newTable("AVERAGE OCCUPANCY BY DAY")
		t.AppendHeader(table.Row{"Day", "Avg %"})
		for day := time.Sunday; day <= time.Saturday; day++ {
			avg, ok := daily[day]
			if !ok {
				continue
			}
			t.AppendRow(table.Row{day.String(), fmt.Sprintf("%.1f%%", avg)})
		}
		t.Render()
	}

	hourly, err := agg.HourlyPattern(ctx, facility, flags.days)
	if err != nil {
		return err
	}
	if len(hourly) > 0 {
		hours := make([]int, 0, len(hourly))
		for hour := range hourly {
			hours = append(hours, hour)
		}
		sort.Ints(hours)

		t := newTable("AVERAGE OCCUPANCY BY HOUR")
		t.AppendHeader(table.Row{"Hour", "Avg %"})
		for _, hour := range hours {
			t.AppendRow(table.Row{
				fmt.Sprintf("%02d:00", hour),
				fmt.Sprintf("%.1f%%", hourly[hour]),
			})
		}
		t.Render()
	}
	return nil
}

func printSlots(title string, slots []tracker.Slot) {
	if len(slots) == 0 {
		return
	}
	t := newTable(title)
	t.AppendHeader(table.Row{"#", "Day", "Time", "Avg %", "Avg People", "Samples"})
	for i, slot := range slots {
		avgPct := "n/a"
		if slot.AvgPercentage != nil {
			avgPct = fmt.Sprintf("%.1f%%", *slot.AvgPercentage)
		}
		avgOcc := "n/a"
		if slot.AvgOccupancy != nil {
			avgOcc = fmt.Sprintf("%.0f", *slot.AvgOccupancy)
		}
		t.AppendRow(table.Row{i + 1, slot.Day.String(), slot.Time, avgPct, avgOcc, slot.SampleCount})
	}
	t.Render()
}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	return t
}

func main() {
	rootCmd.Flags().StringVar(&flags.db, "db", "facility_data.db", "path to the sqlite database")
	rootCmd.Flags().StringVar(&flags.facility, "facility", "", "name of the facility to analyze (e.g. 'CoRec')")
	rootCmd.Flags().BoolVar(&flags.all, "all", false, "show recommendations for all facilities")
	rootCmd.Flags().IntVar(&flags.days, "days", 7, "number of days to analyze")
	rootCmd.Flags().IntVar(&flags.top, "top", 5, "number of time slots to show")

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
