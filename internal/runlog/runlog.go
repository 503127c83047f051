package runlog

// #region imports
import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/afdo-tools/bisect/internal/decider"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	good_prof  TEXT NOT NULL,
	bad_prof   TEXT NOT NULL,
	seed       INTEGER NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS invocations (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	profile_sha TEXT NOT NULL,
	num_funcs   INTEGER NOT NULL,
	verdict     TEXT NOT NULL,
	exit_code   INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// #region store

// Store records every external decider invocation in SQLite so an expensive
// run can be audited afterwards: how many build-and-test cycles it took,
// what each one decided, and how long they ran.
type Store struct {
	db    *sql.DB
	runID string
}

// Open opens the run-log database and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate run log: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion store

// #region begin-run

// BeginRun inserts a run row and makes it the target of subsequent
// invocation records.
func (s *Store) BeginRun(goodProf, badProf string, seed int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, good_prof, bad_prof, seed, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, goodProf, badProf, seed, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.runID = id
	return id, nil
}

// #endregion begin-run

// #region observer

// Invocation implements decider.Observer. A failed write is logged rather
// than returned: the audit trail must never abort the analysis it audits.
func (s *Store) Invocation(rec decider.Invocation) {
	_, err := s.db.Exec(
		`INSERT INTO invocations (run_id, profile_sha, num_funcs, verdict, exit_code, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID, rec.ProfileSHA, rec.NumFuncs, rec.Verdict, rec.ExitCode, rec.Duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Printf("[RUNLOG] failed to record invocation: %v", err)
	}
}

// #endregion observer

// #region summaries

// RunSummary aggregates invocation counts for one run.
type RunSummary struct {
	RunID     string
	GoodProf  string
	BadProf   string
	Seed      int64
	StartedAt time.Time
	Verdicts  map[string]int
	Total     int
}

// ListRuns returns the most recent runs with their verdict counts.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT run_id, good_prof, bad_prof, seed, started_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var startedStr string
		if err := rows.Scan(&sum.RunID, &sum.GoodProf, &sum.BadProf, &sum.Seed, &startedStr); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		sum.StartedAt, _ = time.Parse(time.RFC3339Nano, startedStr)
		sum.Verdicts = map[string]int{}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		vrows, err := s.db.Query(
			`SELECT verdict, COUNT(*) FROM invocations WHERE run_id = ? GROUP BY verdict`,
			out[i].RunID,
		)
		if err != nil {
			return nil, fmt.Errorf("count verdicts: %w", err)
		}
		for vrows.Next() {
			var verdict string
			var n int
			if err := vrows.Scan(&verdict, &n); err != nil {
				vrows.Close()
				return nil, fmt.Errorf("scan verdict count: %w", err)
			}
			out[i].Verdicts[verdict] = n
			out[i].Total += n
		}
		if err := vrows.Err(); err != nil {
			vrows.Close()
			return nil, err
		}
		vrows.Close()
	}
	return out, nil
}

// InvocationRow is one recorded decider run.
type InvocationRow struct {
	RunID      string
	ProfileSHA string
	NumFuncs   int
	Verdict    string
	ExitCode   int
	DurationMS int64
	CreatedAt  time.Time
}

// RecentInvocations returns the latest invocations, optionally filtered to
// one run.
func (s *Store) RecentInvocations(runID string, limit int) ([]InvocationRow, error) {
	query := `SELECT run_id, profile_sha, num_funcs, verdict, exit_code, duration_ms, created_at
	          FROM invocations`
	args := []interface{}{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var out []InvocationRow
	for rows.Next() {
		var row InvocationRow
		var createdStr string
		if err := rows.Scan(&row.RunID, &row.ProfileSHA, &row.NumFuncs, &row.Verdict, &row.ExitCode,
			&row.DurationMS, &createdStr); err != nil {
			return nil, fmt.Errorf("scan invocation: %w", err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, row)
	}
	return out, rows.Err()
}

// #endregion summaries
