package runlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/afdo-tools/bisect/internal/decider"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginRunAndLog(t *testing.T) {
	s := openStore(t)

	runID, err := s.BeginRun("good.txt", "bad.txt", 13)
	if err != nil {
		t.Fatalf("begin run: %v", err)
	}
	if runID == "" {
		t.Fatal("empty run id")
	}

	s.Invocation(decider.Invocation{ProfileSHA: "aaa111", NumFuncs: 10, Verdict: "good", ExitCode: 0, Duration: 2 * time.Second})
	s.Invocation(decider.Invocation{ProfileSHA: "bbb222", NumFuncs: 10, Verdict: "bad", ExitCode: 1, Duration: time.Second})
	s.Invocation(decider.Invocation{ProfileSHA: "ccc333", NumFuncs: 5, Verdict: "bad", ExitCode: 1, Duration: time.Second})

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	sum := runs[0]
	if sum.RunID != runID || sum.Seed != 13 || sum.GoodProf != "good.txt" {
		t.Fatalf("unexpected run summary: %+v", sum)
	}
	if sum.Total != 3 || sum.Verdicts["bad"] != 2 || sum.Verdicts["good"] != 1 {
		t.Fatalf("unexpected verdict counts: %+v", sum)
	}

	invocations, err := s.RecentInvocations(runID, 10)
	if err != nil {
		t.Fatalf("recent invocations: %v", err)
	}
	if len(invocations) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(invocations))
	}
	// Newest first; each row keeps the candidate hash it was logged with.
	if invocations[0].ProfileSHA != "ccc333" || invocations[2].ProfileSHA != "aaa111" {
		t.Fatalf("profile hashes lost or reordered: %+v", invocations)
	}
}

func TestRecentInvocationsFilter(t *testing.T) {
	s := openStore(t)

	first, err := s.BeginRun("good.txt", "bad.txt", 1)
	if err != nil {
		t.Fatalf("begin first run: %v", err)
	}
	s.Invocation(decider.Invocation{NumFuncs: 4, Verdict: "good"})

	second, err := s.BeginRun("good.txt", "bad.txt", 2)
	if err != nil {
		t.Fatalf("begin second run: %v", err)
	}
	s.Invocation(decider.Invocation{NumFuncs: 4, Verdict: "bad", ExitCode: 1})
	s.Invocation(decider.Invocation{NumFuncs: 2, Verdict: "bad", ExitCode: 1})

	all, err := s.RecentInvocations("", 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(all))
	}
	// Newest first.
	if all[0].RunID != second {
		t.Fatalf("expected newest invocation from run %s, got %s", second, all[0].RunID)
	}

	filtered, err := s.RecentInvocations(first, 10)
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Verdict != "good" {
		t.Fatalf("unexpected filtered invocations: %+v", filtered)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.BeginRun("g", "b", 7); err != nil {
		t.Fatalf("begin run: %v", err)
	}
	s.Invocation(decider.Invocation{NumFuncs: 1, Verdict: "skip", ExitCode: 125})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	runs, err := s2.ListRuns(10)
	if err != nil {
		t.Fatalf("list after reopen: %v", err)
	}
	if len(runs) != 1 || runs[0].Verdicts["skip"] != 1 {
		t.Fatalf("data lost across reopen: %+v", runs)
	}
}
