package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen-cli/internal/db"
	"github.com/sells-group/leadgen-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path: cache reads, exclusion-set queries, and result upserts.
var preparedStatements = map[string]string{
	"get_cache_entry":  `SELECT candidates, captured_at, expires_at FROM lead_cache WHERE fingerprint = $1 AND expires_at > now()`,
	"list_assignments": `SELECT id, fingerprint, candidate_id, customer_id, assigned_at FROM assignments WHERE fingerprint = $1 AND assigned_at >= $2 ORDER BY assigned_at`,
	"get_task":         `SELECT id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at FROM tasks WHERE id = $1`,
	"get_result":       `SELECT task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at FROM results WHERE task_id = $1 AND candidate_id = $2`,
	"append_log":       `INSERT INTO task_log (id, task_id, level, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS lead_cache (
	fingerprint TEXT PRIMARY KEY,
	candidates  JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	fingerprint  TEXT NOT NULL,
	candidate_id TEXT NOT NULL,
	customer_id  TEXT NOT NULL,
	assigned_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	customer_id     TEXT NOT NULL,
	query           JSONB NOT NULL,
	fingerprint     TEXT NOT NULL,
	requested_count INTEGER NOT NULL,
	age_filter      JSONB,
	status          TEXT NOT NULL DEFAULT 'running',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	task_id      TEXT NOT NULL REFERENCES tasks(id),
	candidate_id TEXT NOT NULL,
	candidate    JSONB NOT NULL,
	phone        TEXT,
	phone_type   TEXT,
	phone_state  TEXT NOT NULL DEFAULT 'pending',
	score        DOUBLE PRECISION,
	age          INTEGER,
	carrier      TEXT,
	accepted     BOOLEAN NOT NULL DEFAULT false,
	no_response  BOOLEAN NOT NULL DEFAULT false,
	updated_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_id, candidate_id)
);

CREATE TABLE IF NOT EXISTS task_log (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task_id    TEXT NOT NULL REFERENCES tasks(id),
	level      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assignments_fp_at ON assignments(fingerprint, assigned_at);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_customer ON tasks(customer_id);
CREATE INDEX IF NOT EXISTS idx_task_log_task ON task_log(task_id);
CREATE INDEX IF NOT EXISTS idx_lead_cache_expires ON lead_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetCacheEntry(ctx context.Context, fp model.Fingerprint) (*model.CacheEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT candidates, captured_at, expires_at FROM lead_cache WHERE fingerprint = $1 AND expires_at > now()`,
		string(fp),
	)

	var candidatesJSON []byte
	entry := model.CacheEntry{Fingerprint: fp}
	err := row.Scan(&candidatesJSON, &entry.CapturedAt, &entry.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cache entry")
	}
	if err := json.Unmarshal(candidatesJSON, &entry.Candidates); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal cached candidates")
	}
	return &entry, nil
}

func (s *PostgresStore) PutCacheEntry(ctx context.Context, fp model.Fingerprint, candidates []model.Candidate, freshFor time.Duration) error {
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
		return eris.Wrap(err, "postgres: marshal candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO lead_cache (fingerprint, candidates, captured_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (fingerprint) DO UPDATE SET candidates = EXCLUDED.candidates,
		   captured_at = EXCLUDED.captured_at, expires_at = EXCLUDED.expires_at`,
		string(fp), candidatesJSON, now, now.Add(freshFor),
	)
	return eris.Wrap(err, "postgres: put cache entry")
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lead_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListAssignments(ctx context.Context, fp model.Fingerprint, since time.Time) ([]model.AssignmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint, candidate_id, customer_id, assigned_at FROM assignments
		 WHERE fingerprint = $1 AND assigned_at >= $2 ORDER BY assigned_at`,
		string(fp), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list assignments")
	}
	defer rows.Close()

	var records []model.AssignmentRecord
	for rows.Next() {
		var r model.AssignmentRecord
		if err := rows.Scan(&r.ID, &r.Fingerprint, &r.CandidateID, &r.CustomerID, &r.AssignedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan assignment")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list assignments iterate")
}

func (s *PostgresStore) RecordAssignments(ctx context.Context, fp model.Fingerprint, candidateIDs []string, customerID string) error {
	if len(candidateIDs) == 0 {
		return nil
	}
	now := time.Now().UTC()

	rows := make([][]any, 0, len(candidateIDs))
	for _, cid := range candidateIDs {
		rows = append(rows, []any{uuid.New().String(), string(fp), cid, customerID, now})
	}

	_, err := db.CopyFrom(ctx, s.pool, "assignments",
		[]string{"id", "fingerprint", "candidate_id", "customer_id", "assigned_at"}, rows)
	return eris.Wrap(err, "postgres: record assignments")
}

func (s *PostgresStore) DeleteAssignmentsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assignments WHERE assigned_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete old assignments")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, customerID string, q model.Query, requested int, ageFilter *model.AgeRange) (*model.Task, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	fp := model.NewFingerprint(q)

	queryJSON, err := json.Marshal(q)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal query")
	}

	var filterJSON []byte
	if ageFilter != nil {
		filterJSON, err = json.Marshal(ageFilter)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal age filter")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, customerID, queryJSON, string(fp), requested, filterJSON, string(model.TaskStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert task")
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

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update task status %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("task not found: %s", taskID)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at FROM tasks WHERE id = $1`,
		taskID,
	)
	t, err := scanTaskPg(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	query := `SELECT id, customer_id, query, fingerprint, requested_count, age_filter, status, created_at, updated_at FROM tasks WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $1`
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		query += ` AND customer_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTaskPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func (s *PostgresStore) UpsertResult(ctx context.Context, r model.SearchResult) error {
	candidateJSON, err := json.Marshal(r.Candidate)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal candidate")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO results (task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (task_id, candidate_id) DO UPDATE SET
		   phone = EXCLUDED.phone, phone_type = EXCLUDED.phone_type, phone_state = EXCLUDED.phone_state,
		   score = EXCLUDED.score, age = EXCLUDED.age, carrier = EXCLUDED.carrier,
		   accepted = EXCLUDED.accepted, no_response = EXCLUDED.no_response, updated_at = EXCLUDED.updated_at`,
		r.TaskID, r.CandidateID, candidateJSON, r.Phone, r.PhoneType, string(r.PhoneState),
		r.Score, r.Age, r.Carrier, r.Accepted, r.NoResponse, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert result %s/%s", r.TaskID, r.CandidateID)
}

func (s *PostgresStore) GetResult(ctx context.Context, taskID, candidateID string) (*model.SearchResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at
		 FROM results WHERE task_id = $1 AND candidate_id = $2`,
		taskID, candidateID,
	)
	r, err := scanResultPg(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get result")
	}
	return r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, taskID string) ([]model.SearchResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT task_id, candidate_id, candidate, phone, phone_type, phone_state, score, age, carrier, accepted, no_response, updated_at
		 FROM results WHERE task_id = $1 ORDER BY candidate_id`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		r, err := scanResultPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		results = append(results, *r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) DeleteResult(ctx context.Context, taskID, candidateID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM results WHERE task_id = $1 AND candidate_id = $2`,
		taskID, candidateID,
	)
	return eris.Wrapf(err, "postgres: delete result %s/%s", taskID, candidateID)
}

func (s *PostgresStore) AppendLog(ctx context.Context, taskID string, level model.LogLevel, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_log (id, task_id, level, message, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), taskID, string(level), message, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append log %s", taskID)
}

func (s *PostgresStore) ListLog(ctx context.Context, taskID string) ([]model.TaskLogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, level, message, created_at FROM task_log WHERE task_id = $1 ORDER BY created_at`,
		taskID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list log")
	}
	defer rows.Close()

	var entries []model.TaskLogEntry
	for rows.Next() {
		var e model.TaskLogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list log iterate")
}

func (s *PostgresStore) CollectStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TasksByStatus: make(map[model.TaskStatus]int)}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats tasks")
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task stats")
		}
		stats.TasksByStatus[model.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: stats tasks iterate")
	}

	for _, q := range []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM lead_cache`, &stats.CacheEntries},
		{`SELECT COUNT(*) FROM assignments`, &stats.Assignments},
		{`SELECT COUNT(*) FROM results`, &stats.Results},
	} {
		if err := s.pool.QueryRow(ctx, q.sql).Scan(q.dest); err != nil {
			return nil, eris.Wrap(err, "postgres: stats count")
		}
	}
	return stats, nil
}

// pg scan helpers

func scanTaskPg(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var queryJSON []byte
	var fp string
	var filterJSON []byte

	err := row.Scan(&t.ID, &t.CustomerID, &queryJSON, &fp, &t.RequestedCount, &filterJSON, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	t.Fingerprint = model.Fingerprint(fp)
	if err := json.Unmarshal(queryJSON, &t.Query); err != nil {
		return nil, eris.Wrap(err, "unmarshal query")
	}
	if len(filterJSON) > 0 {
		t.AgeFilter = &model.AgeRange{}
		if err := json.Unmarshal(filterJSON, t.AgeFilter); err != nil {
			return nil, eris.Wrap(err, "unmarshal age filter")
		}
	}
	return &t, nil
}

func scanResultPg(row pgx.Row) (*model.SearchResult, error) {
	var r model.SearchResult
	var candidateJSON []byte
	var phone, phoneType, carrier *string
	var score *float64
	var age *int

	err := row.Scan(&r.TaskID, &r.CandidateID, &candidateJSON, &phone, &phoneType, &r.PhoneState,
		&score, &age, &carrier, &r.Accepted, &r.NoResponse, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(candidateJSON, &r.Candidate); err != nil {
		return nil, eris.Wrap(err, "unmarshal candidate")
	}
	if phone != nil {
		r.Phone = *phone
	}
	if phoneType != nil {
		r.PhoneType = *phoneType
	}
	if carrier != nil {
		r.Carrier = *carrier
	}
	if score != nil {
		r.Score = *score
	}
	if age != nil {
		r.Age = *age
	}
	return &r, nil
}

