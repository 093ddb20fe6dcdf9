package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/codefionn/tilewall/internal/store"
)

var layoutsLimit int

// layoutsCmd prints the stored calibration history of a session.
var layoutsCmd = &cobra.Command{
	Use:   "layouts [SESSION]",
	Short: "Show stored calibration runs",
	Long:  "Without SESSION, list the sessions that have recorded calibrations. With SESSION, print its most recent runs.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := store.NewDatabase(cfg.StoragePath)
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 0 {
			ids, err := db.Sessions()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		}

		runs, err := db.History(args[0], layoutsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println(color.YellowString("No calibrations recorded for %s", args[0]))
			return nil
		}
		for _, run := range runs {
			printRun(run)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(layoutsCmd)
	layoutsCmd.Flags().IntVar(&layoutsLimit, "limit", 10, "Maximum number of runs to show")
}

func printRun(run *store.Run) {
	status := color.RedString(strings.ToUpper(run.Outcome))
	if run.Outcome == store.OutcomeSucceeded {
		status = color.GreenString("OK")
	}

	fmt.Printf("%s #%d %s  frames=%d", run.CompletedAt.Format("2006-01-02 15:04:05"), run.ID, status, run.Frames)
	if run.Forced {
		fmt.Print(" forced")
	}
	if run.Error != "" {
		fmt.Printf("  %s", run.Error)
	}
	fmt.Println()

	if run.Layout == nil {
		return
	}
	fmt.Printf("  aspect %.4f\n", run.AspectRatio)

	ids := make([]int, 0, len(run.Layout))
	for id := range run.Layout {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		q := run.Layout[id]
		corners := make([]string, len(q))
		for i, p := range q {
			corners[i] = "(" + strconv.FormatFloat(p.X, 'f', 4, 64) + ", " + strconv.FormatFloat(p.Y, 'f', 4, 64) + ")"
		}
		fmt.Printf("  marker %3d  %s\n", id, strings.Join(corners, " "))
	}
}
