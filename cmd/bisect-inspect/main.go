package main

// #region imports
import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/afdo-tools/bisect/internal/runlog"
)

// #endregion

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the run-log SQLite file")
	runID := flag.String("run", "", "filter invocations to one run id")
	last := flag.Int("last", 20, "show N most recent invocations")
	jsonOut := flag.Bool("json", false, "output as JSON instead of a table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: bisect-inspect --db runs.db [--run id] [--last N] [--json]")
		os.Exit(2)
	}

	store, err := runlog.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := inspect(store, *runID, *last, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region inspect

func inspect(store *runlog.Store, runID string, last int, jsonOut bool) error {
	runs, err := store.ListRuns(last)
	if err != nil {
		return err
	}
	invocations, err := store.RecentInvocations(runID, last)
	if err != nil {
		return err
	}

	if jsonOut {
		out := struct {
			Runs        []runlog.RunSummary    `json:"runs"`
			Invocations []runlog.InvocationRow `json:"invocations"`
		}{runs, invocations}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("RUNS")
	fmt.Printf("%-36s  %-20s  %6s  %5s  %5s  %5s\n", "RUN", "STARTED", "TOTAL", "GOOD", "BAD", "SKIP")
	for _, r := range runs {
		fmt.Printf("%-36s  %-20s  %6d  %5d  %5d  %5d\n",
			r.RunID, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Total, r.Verdicts["good"], r.Verdicts["bad"], r.Verdicts["skip"])
	}

	fmt.Println()
	fmt.Println("RECENT INVOCATIONS")
	fmt.Printf("%-36s  %-12s  %6s  %-7s  %4s  %8s\n", "RUN", "PROFILE", "FUNCS", "VERDICT", "EXIT", "MS")
	for _, inv := range invocations {
		fmt.Printf("%-36s  %-12s  %6d  %-7s  %4d  %8d\n",
			inv.RunID, shortSHA(inv.ProfileSHA), inv.NumFuncs, inv.Verdict, inv.ExitCode, inv.DurationMS)
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}

// #endregion inspect
