package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadgen-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS lead_cache (
	fingerprint TEXT PRIMARY KEY,
	candidates  TEXT NOT NULL,
	captured_at DATETIME NOT NULL,
	expires_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id           TEXT PRIMARY KEY,
	fingerprint  TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	customer_id  TEXT NOT NULL,
	assigned_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	customer_id     TEXT NOT NULL,
	query           TEXT NOT NULL,
	fingerprint     TEXT NOT NULL,
	requested_count INTEGER NOT NULL,
	age_filter      TEXT,
	status          TEXT NOT NULL DEFAULT 'running',
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	task_id      TEXT NOT NULL REFERENCES tasks(id),
	candidate_id TEXT NOT NULL,
	candidate    TEXT NOT NULL,
	phone        TEXT,
	phone_type   TEXT,
	phone_state  TEXT NOT NULL DEFAULT 'pending',
	score        REAL,
	age          INTEGER,
	carrier      TEXT,
	accepted     INTEGER NOT NULL DEFAULT 0,
	no_response  INTEGER NOT NULL DEFAULT 0,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (task_id, candidate_id)
);

CREATE TABLE IF NOT EXISTS task_log (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assignments_fp_at ON assignments(fingerprint, assigned_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_customer ON tasks(customer_id);
CREATE INDEX IF NOT EXISTS idx_task_log_task ON task_log(task_id);
CREATE INDEX IF NOT EXISTS idx_lead_cache_expires ON lead_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetCacheEntry(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT candidates, captured_at, expires_at FROM lead_cache
		 WHERE fingerprint = ? AND expires_at > ?`,
		string(fp), time.Now().UTC(),
	)

	var candidatesJSON string
	entry := model.CacheEntry{Fingerprint: fp}
	err := row.Scan(&candidatesJSON, &entry.CapturedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cache entry")
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &entry.Candidates); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cached candidates")
	}
	return &entry, nil
}

func (s *SQLiteStore) PutCacheEntry(ctx context.Context, fp model.Fingerprint, candidates []model.Candidate, freshFor time.Duration) error {
	now := time.Now().UTC()

	merged := candidates
	existing, err := s.GetCacheEntry(ctx, fp)
	if err != nil {
		return err
	}
	if existing != nil {
		merged = mergeCandidates(existing.Candidates, candidates)
	}

	candidatesJSON, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lead_cache (fingerprint, candidates, captured_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET candidates = excluded.candidates,
		   captured_at = excluded.captured_at, expires_at = excluded.expires_at`,
		string(fp), string(candidatesJSON), now, now.Add(freshFor),
	)
	return eris.Wrap(err, "sqlite: put cache entry")
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM lead_cache WHERE expires_at <= ?`, time.Now().UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListAssignments(ctx context.Context, fp model.Fingerprint, since time.Time) ([]model.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, candidate_id, customer_id, assigned_at FROM assignments
		 WHERE fingerprint = ? AND assigned_at >= ? ORDER BY assigned_at`,
		string(fp), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list assignments")
	}
	defer rows.Close()

	var records []model.AssignmentRecord
	for rows.Next() {
		var r model.AssignmentRecord
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.CandidateID, &r.CustomerID, &r.AssignedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list assignments iterate")
}

func (s *SQLiteStore) RecordAssignments(ctx context.Context, fp model.Fingerprint, candidateIDs []string, customerID string) error {
	if len(candidateIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin assignments tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO assignments (id, fingerprint, candidate_id, customer_id, assigned_at) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare assignment insert")
	}
	defer stmt.Close()

	for _, cid := range candidateIDs {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), string(fp), cid, customerID, now); err != nil {
			return eris.Wrapf(err, "sqlite: insert assignment %s", cid)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit assignments")
}

func (s *SQLiteStore) DeleteAssignmentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE assigned_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete old assignments")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateTask(ctx context.Context, customerID string, q model.Query, requested int, ageFilter *model.AgeRange) (*model.Task, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	fp := model.NewFingerprint(q)

	queryJSON, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal query")
	}

	var filterJSON any
	if ageFilter != nil {
		b, err := json.Marshal(ageFilter)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal age filter")
		}
		filterJSON = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, customerID, string(queryJSON), string(fp), requested, filterJSON, string(model.TaskStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert task")
	}

	return &model.Task{
		ID:             id,
		CustomerID:     customerID,
		Query:          q,
		Fingerprint:    fp,
		RequestedCount: requested,
		AgeFilter:      ageFilter,
		Status:         model.TaskStatusRunning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update task status %s", taskID)
	}
	return checkRowsAffected(res, "task", taskID)
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at
		 FROM tasks WHERE id = ?`,
		taskID,
	)
	return scanTask(row)
}

func (s *SQLiteStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at
	 FROM tasks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, filter.CustomerID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "sqlite: list tasks iterate")
}

func (s *SQLiteStore) UpsertResult(ctx context.Context, r model.SearchResult) error {
	candidateJSON, err := json.Marshal(r.Candidate)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal candidate")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO results (task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id, candidate_id) DO UPDATE SET
		   phone = excluded.phone, phone_type = excluded.phone_type, phone_state = excluded.phone_state,
		   score = excluded.score, age = excluded.age, carrier = excluded.carrier,
		   accepted = excluded.accepted, no_response = excluded.no_response, updated_at = excluded.updated_at`,
		r.TaskID, r.CandidateID, string(candidateJSON), r.Phone, r.PhoneType, string(r.PhoneState),
		r.Score, r.Age, r.Carrier, r.Accepted, r.NoResponse, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert result %s/%s", r.TaskID, r.CandidateID)
}

func (s *SQLiteStore) GetResult(ctx context.Context, taskID, candidateID string) (*model.SearchResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at
		 FROM results WHERE task_id = ? AND candidate_id = ?`,
		taskID, candidateID,
	)
	r, err := scanResult(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) ListResults(ctx context.Context, taskID string) ([]model.SearchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at
		 FROM results WHERE task_id = ? ORDER BY candidate_id`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) DeleteResult(ctx context.Context, taskID, candidateID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE task_id = ? AND candidate_id = ?`,
		taskID, candidateID,
	)
	return eris.Wrapf(err, "sqlite: delete result %s/%s", taskID, candidateID)
}

func (s *SQLiteStore) AppendLog(ctx context.Context, taskID string, level model.LogLevel, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_log (id, task_id, level, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), taskID, string(level), message, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append log %s", taskID)
}

func (s *SQLiteStore) ListLog(ctx context.Context, taskID string) ([]model.TaskLogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, level, message, created_at FROM task_log WHERE task_id = ? ORDER BY created_at`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list log")
	}
	defer rows.Close()

	var entries []model.TaskLogEntry
	for rows.Next() {
		var e model.TaskLogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list log iterate")
}

func (s *SQLiteStore) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TasksByStatus: make(map[model.TaskStatus]int)}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stats tasks")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task stats")
		}
		stats.TasksByStatus[model.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: stats tasks iterate")
	}

	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM lead_cache`, &stats.CacheEntries},
		{`SELECT COUNT(*) FROM assignments`, &stats.Assignments},
		{`SELECT COUNT(*) FROM results`, &stats.Results},
	} {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats count")
		}
	}
	return stats, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTask(row scannable) (*model.Task, error) {
	var t model.Task
	var queryJSON, fp string
	var filterJSON sql.NullString

	err := row.Scan(&t.ID, &t.CustomerID, &queryJSON, &fp, &t.RequestedCount, &filterJSON, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("task not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan task")
	}

	t.Fingerprint = model.Fingerprint(fp)
	if err := json.Unmarshal([]byte(queryJSON), &t.Query); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal query")
	}
	if filterJSON.Valid {
		t.AgeFilter = &model.AgeRange{}
		if err := json.Unmarshal([]byte(filterJSON.String), t.AgeFilter); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal age filter")
		}
	}
	return &t, nil
}

func scanResult(row scannable) (*model.SearchResult, error) {
	var r model.SearchResult
	var candidateJSON string
	var phone, phoneType, carrier sql.NullString
	var score sql.NullFloat64
	var age sql.NullInt64

	err := row.Scan(&r.TaskID, &r.CandidateID, &candidateJSON, &phone, &phoneType, &r.PhoneState,
		&score, &age, &carrier, &r.Accepted, &r.NoResponse, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan result")
	}

	if err := json.Unmarshal([]byte(candidateJSON), &r.Candidate); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal candidate")
	}
	r.Phone = phone.String
	r.PhoneType = phoneType.String
	r.Carrier = carrier.String
	r.Score = score.Float64
	r.Age = int(age.Int64)
	return &r, nil
}
