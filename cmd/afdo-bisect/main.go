package main

// #region imports
import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/afdo-tools/bisect/internal/bisect"
	"github.com/afdo-tools/bisect/internal/decider"
	"github.com/afdo-tools/bisect/internal/profile"
	"github.com/afdo-tools/bisect/internal/runlog"
	"github.com/afdo-tools/bisect/internal/settings"
)

// #endregion

// #region main

func main() {
	goodPath := flag.String("good_prof", "", "text-based good AFDO profile")
	badPath := flag.String("bad_prof", "", "text-based bad AFDO profile")
	deciderPath := flag.String("external_decider", "", "script that judges an AFDO profile GOOD/BAD/SKIP")
	outPath := flag.String("analysis_output_file", "", "file to write the JSON report to")
	statePath := flag.String("state_file", "afdo_analysis_state.json", "bisection checkpoint path")
	noResume := flag.Bool("no_resume", false, "ignore an existing checkpoint and start fresh")
	removeState := flag.Bool("remove_state_on_completion", false, "delete the checkpoint instead of archiving it")
	seed := flag.Int64("seed", 0, "seed for randomized search decisions (0 derives one from the clock)")
	runLogPath := flag.String("run_log", "", "optional SQLite file recording every decider invocation")
	configPath := flag.String("config", "", "optional YAML tuning file")
	flag.Parse()

	if *goodPath == "" || *badPath == "" || *deciderPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: afdo-bisect --good_prof good.txt --bad_prof bad.txt \\")
		fmt.Fprintln(os.Stderr, "           --external_decider ./decide.sh --analysis_output_file report.json \\")
		fmt.Fprintln(os.Stderr, "           [--state_file path] [--no_resume] [--remove_state_on_completion] \\")
		fmt.Fprintln(os.Stderr, "           [--seed N] [--run_log runs.db] [--config tuning.yaml]")
		os.Exit(2)
	}

	var seedPtr *int64
	if *seed != 0 {
		seedPtr = seed
	}

	if err := run(*goodPath, *badPath, *deciderPath, *outPath, *statePath,
		*runLogPath, *configPath, *noResume, *removeState, seedPtr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region run

func run(goodPath, badPath, deciderPath, outPath, statePath, runLogPath, configPath string,
	noResume, removeState bool, seed *int64) error {

	tuning, err := settings.Load(configPath)
	if err != nil {
		return err
	}

	good, err := profile.LoadFile(goodPath)
	if err != nil {
		return err
	}
	bad, err := profile.LoadFile(badPath)
	if err != nil {
		return err
	}

	ext := &decider.External{Script: deciderPath}
	policy := decider.DefaultRetryPolicy()
	nonBisectRuns := 0
	if tuning != nil {
		if tuning.Decider.MaxSkipRetries > 0 {
			policy.MaxSkipRetries = tuning.Decider.MaxSkipRetries
		}
		ext.StagingDir = tuning.Decider.StagingDir
		nonBisectRuns = tuning.Search.NonBisectRuns
	}

	var store *runlog.Store
	if runLogPath != "" {
		store, err = runlog.Open(runLogPath)
		if err != nil {
			return err
		}
		defer store.Close()
		ext.Observer = store
	}

	cfg := bisect.Config{
		Good:                    good,
		Bad:                     bad,
		Decider:                 &decider.Retrier{Inner: ext, Policy: policy},
		StateFile:               statePath,
		NoResume:                noResume,
		RemoveStateOnCompletion: removeState,
		Seed:                    seed,
		NonBisectRuns:           nonBisectRuns,
	}

	eng, err := bisect.New(cfg)
	if err != nil {
		return err
	}
	if store != nil {
		if _, err := store.BeginRun(goodPath, badPath, eng.Seed()); err != nil {
			return err
		}
	}

	res, err := eng.Run()
	if err != nil {
		return err
	}
	gnb, err := bisect.CheckGoodNotBad(good, bad, cfg.Decider)
	if err != nil {
		return err
	}
	bng, err := bisect.CheckBadNotGood(good, bad, cfg.Decider)
	if err != nil {
		return err
	}

	report := bisect.Report{
		Seed:              eng.Seed(),
		BisectResults:     *res,
		GoodOnlyFunctions: gnb,
		BadOnlyFunctions:  bng,
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	fmt.Printf("bisection complete: %d individual(s), %d range(s), seed %d → %s\n",
		len(res.Individuals), len(res.Ranges), report.Seed, outPath)
	return nil
}

// #endregion run
