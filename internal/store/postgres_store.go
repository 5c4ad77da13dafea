package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/devrev/loginspector/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// pgUndefinedTable is the SQLSTATE for a missing relation
const pgUndefinedTable = "42P01"

// PostgresStore implements Backend on PostgreSQL: one table per level inside
// the configured schema.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	logger *zap.Logger
}

// NewPostgresStore creates the pool, verifies it with a ping and makes sure
// the schema exists.
func NewPostgresStore(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s",
		cfg.Host, cfg.Port, cfg.Namespace, cfg.Username, cfg.Password,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	config.HealthCheckPeriod = cfg.heartbeatInterval()
	if cfg.MaxPoolSize > 0 {
		config.MaxConns = int32(cfg.MaxPoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema %s: %w", schema, err)
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("address", cfg.Address()),
		zap.String("database", cfg.Namespace),
		zap.String("schema", schema))

	return &PostgresStore{
		pool:   pool,
		schema: schema,
		logger: logger,
	}, nil
}

func (s *PostgresStore) table(collection string) string {
	return pgx.Identifier{s.schema, collection}.Sanitize()
}

// indexName is derived from a hash so long level names cannot collide after
// identifier truncation.
func indexName(collection string) string {
	h := fnv.New32a()
	h.Write([]byte(collection))
	return fmt.Sprintf("time_desc_%08x", h.Sum32())
}

// EnsureIndex creates the level table and its descending time index
func (s *PostgresStore) EnsureIndex(ctx context.Context, collection string) error {
	table := s.table(collection)

	createTable := `
		CREATE TABLE IF NOT EXISTS ` + table + ` (
			id           BIGSERIAL PRIMARY KEY,
			level        TEXT        NOT NULL,
			time         TIMESTAMPTZ NOT NULL,
			source_node  TEXT        NOT NULL,
			message      TEXT        NOT NULL DEFAULT '',
			attributes   JSONB       NOT NULL DEFAULT '{}'::jsonb,
			search_terms TEXT[]      NOT NULL DEFAULT '{}'
		)
	`
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	// tables created before per-field search terms
	addTerms := `ALTER TABLE ` + table + ` ADD COLUMN IF NOT EXISTS search_terms TEXT[] NOT NULL DEFAULT '{}'`
	if _, err := s.pool.Exec(ctx, addTerms); err != nil {
		return fmt.Errorf("failed to add search terms to %s: %w", table, err)
	}

	createIndex := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (time DESC)",
		pgx.Identifier{indexName(collection)}.Sanitize(), table,
	)
	if _, err := s.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create time index on %s: %w", table, err)
	}
	return nil
}

// Indexes lists the indexes on the level table from pg_indexes
func (s *PostgresStore) Indexes(ctx context.Context, collection string) ([]IndexInfo, error) {
	query := `
		SELECT indexname, indexdef
		FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2
	`
	rows, err := s.pool.Query(ctx, query, s.schema, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes on %s: %w", collection, err)
	}
	defer rows.Close()

	var infos []IndexInfo
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		if !strings.Contains(def, "(time") {
			continue
		}
		infos = append(infos, IndexInfo{
			Name:       name,
			Field:      TimeField,
			Descending: strings.Contains(def, "time DESC"),
		})
	}
	return infos, rows.Err()
}

// Insert writes one row and returns its id
func (s *PostgresStore) Insert(ctx context.Context, collection string, rec *model.LogRecord) (string, error) {
	attrs := rec.Attributes
	if attrs == nil {
		attrs = map[string]interface{}{}
	}

	query := `INSERT INTO ` + s.table(collection) + ` (level, time, source_node, message, attributes, search_terms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.Level,
		rec.Time,
		rec.SourceNode,
		rec.Message,
		attrs,
		rec.SearchTerms(model.KeywordScopeAll),
	).Scan(&id)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d", id), nil
}

// Find returns one window ordered by time then id, both descending
func (s *PostgresStore) Find(ctx context.Context, collection string, q Query) ([]*model.LogRecord, error) {
	query, args := buildFindQuery(s.table(collection), q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var records []*model.LogRecord
	for rows.Next() {
		var (
			id  int64
			rec model.LogRecord
		)
		if err := rows.Scan(&id, &rec.Level, &rec.Time, &rec.SourceNode, &rec.Message, &rec.Attributes); err != nil {
			return nil, err
		}
		rec.ID = fmt.Sprintf("%d", id)
		if len(rec.Attributes) == 0 {
			rec.Attributes = nil
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	return records, nil
}

// buildFindQuery renders the windowed scan of table. Keywords are matched
// against one search term at a time.
func buildFindQuery(table string, q Query) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !q.Filter.Since.IsZero() {
		where = append(where, "time >= "+arg(q.Filter.Since))
	}
	if !q.Filter.Until.IsZero() {
		where = append(where, "time <= "+arg(q.Filter.Until))
	}
	if q.Keyword != "" {
		op := "ILIKE"
		if q.CaseSensitive {
			op = "LIKE"
		}
		pattern := arg("%" + escapeLike(q.Keyword) + "%")
		if q.KeywordScope == model.KeywordScopeMessage {
			where = append(where, fmt.Sprintf("message %s %s", op, pattern))
		} else {
			where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(search_terms) AS term WHERE term %s %s)", op, pattern))
		}
	}

	query := `SELECT id, level, time, source_node, message, attributes FROM ` + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY time DESC, id DESC OFFSET " + arg(q.Skip)
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}

// Collections lists the tables of the schema that carry a level time index.
// Unrelated tables sharing the schema are skipped.
func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	query := `
		SELECT tablename, indexname
		FROM pg_indexes
		WHERE schemaname = $1 AND indexname LIKE 'time\_desc\_%'
		ORDER BY tablename
	`
	rows, err := s.pool.Query(ctx, query, s.schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name, index string
		if err := rows.Scan(&name, &index); err != nil {
			return nil, err
		}
		if index == indexName(name) {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

// existingTables keeps the names that resolve to a table of the schema
func (s *PostgresStore) existingTables(ctx context.Context, collections []string) ([]string, error) {
	query := `
		SELECT name
		FROM unnest($2::text[]) AS name
		WHERE to_regclass(quote_ident($1) || '.' || quote_ident(name)) IS NOT NULL
	`
	rows, err := s.pool.Query(ctx, query, s.schema, collections)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// NodeSpans aggregates across the level tables in one statement. Levels with
// no table yet contribute nothing.
func (s *PostgresStore) NodeSpans(ctx context.Context, collections []string) ([]model.NodeSpan, error) {
	if len(collections) == 0 {
		return nil, nil
	}

	names, err := s.existingTables(ctx, collections)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}

	tables := make([]string, len(names))
	for i, name := range names {
		tables[i] = s.table(name)
	}

	rows, err := s.pool.Query(ctx, buildNodeSpansQuery(tables))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []model.NodeSpan
	for rows.Next() {
		var span model.NodeSpan
		if err := rows.Scan(&span.SourceNode, &span.Count, &span.FirstSeen, &span.LastSeen, &span.DistinctTimes); err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

func buildNodeSpansQuery(tables []string) string {
	parts := make([]string, len(tables))
	for i, table := range tables {
		parts[i] = "SELECT source_node, time FROM " + table
	}

	return `
		SELECT source_node, COUNT(*), MIN(time), MAX(time), COUNT(DISTINCT time)
		FROM (` + strings.Join(parts, " UNION ALL ") + `) AS reports
		GROUP BY source_node
	`
}

// Ping checks a pooled connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
