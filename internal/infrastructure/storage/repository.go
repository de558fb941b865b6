package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"FeedGuard/internal/domain"
	"FeedGuard/internal/ports"
)

// Dialect selects SQL flavour differences between the supported databases.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Open connects to the configured database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, Dialect, error) {
	dialect := Dialect(driver)
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, "", fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// modernc serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("ping %s: %w", dialect, err)
	}
	return db, dialect, nil
}

// Repository persists impressions and calibration scores.
type Repository struct {
	db      *sql.DB
	dialect Dialect
	builder sq.StatementBuilderType
}

var (
	_ ports.ImpressionStore  = (*Repository)(nil)
	_ ports.CalibrationStore = (*Repository)(nil)
)

// NewRepository wires a sql.DB implementation.
func NewRepository(db *sql.DB, dialect Dialect) *Repository {
	var format sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		format = sq.Dollar
	}
	return &Repository{
		db:      db,
		dialect: dialect,
		builder: sq.StatementBuilder.PlaceholderFormat(format),
	}
}

// Migrate creates the tables when they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}

	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.dialect == DialectPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS impressions (
			` + idColumn + `,
			session_id TEXT NOT NULL,
			post_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			bucket TEXT NOT NULL,
			position INTEGER NOT NULL,
			original_position INTEGER NOT NULL,
			was_reordered BOOLEAN NOT NULL,
			source_group TEXT NOT NULL,
			shown_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS impressions_session_idx ON impressions (session_id)`,
		`CREATE TABLE IF NOT EXISTS calibration_scores (
			` + idColumn + `,
			post_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			source_group TEXT NOT NULL,
			heuristic_score DOUBLE PRECISION NOT NULL,
			api_score DOUBLE PRECISION NULL,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS calibration_post_idx ON calibration_scores (post_id)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SaveImpressions inserts one session's impressions in a single statement.
func (r *Repository) SaveImpressions(ctx context.Context, sessionID string, impressions []domain.Impression) error {
	if r.db == nil || len(impressions) == 0 {
		return nil
	}

	insert := r.builder.Insert("impressions").Columns(
		"session_id", "post_id", "platform", "score", "bucket",
		"position", "original_position", "was_reordered", "source_group", "shown_at",
	)
	for _, imp := range impressions {
		shownAt := imp.Timestamp
		if shownAt.IsZero() {
			shownAt = time.Now()
		}
		insert = insert.Values(
			sessionID, imp.PostID, imp.Platform, imp.Score, string(imp.Bucket),
			imp.Position, imp.OriginalPosition, imp.WasReordered, imp.SourceGroup, shownAt.UTC(),
		)
	}

	if _, err := insert.RunWith(r.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("insert impressions: %w", err)
	}
	return nil
}

// SaveCalibration records scored posts for later threshold analysis.
func (r *Repository) SaveCalibration(ctx context.Context, entries []domain.CalibrationEntry) error {
	if r.db == nil || len(entries) == 0 {
		return nil
	}

	insert := r.builder.Insert("calibration_scores").Columns(
		"post_id", "platform", "source_group", "heuristic_score", "api_score", "recorded_at",
	)
	for _, e := range entries {
		var api sql.NullFloat64
		if e.APIScore != nil {
			api = sql.NullFloat64{Float64: *e.APIScore, Valid: true}
		}
		recordedAt := e.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = time.Now()
		}
		insert = insert.Values(e.PostID, e.Platform, e.Group, e.HeuristicScore, api, recordedAt.UTC())
	}

	if _, err := insert.RunWith(r.db).ExecContext(ctx); err != nil {
		return fmt.Errorf("insert calibration: %w", err)
	}
	return nil
}

// LoadCalibration returns calibration entries recorded since the given time, oldest first.
func (r *Repository) LoadCalibration(ctx context.Context, since time.Time) ([]domain.CalibrationEntry, error) {
	if r.db == nil {
		return nil, nil
	}

	query := r.builder.
		Select("post_id", "platform", "source_group", "heuristic_score", "api_score", "recorded_at").
		From("calibration_scores").
		Where(sq.GtOrEq{"recorded_at": since.UTC()}).
		OrderBy("recorded_at", "id")

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query calibration: %w", err)
	}
	defer rows.Close()

	var entries []domain.CalibrationEntry
	for rows.Next() {
		var (
			e   domain.CalibrationEntry
			api sql.NullFloat64
		)
		if err := rows.Scan(&e.PostID, &e.Platform, &e.Group, &e.HeuristicScore, &api, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		if api.Valid {
			e.APIScore = domain.ScoreOf(api.Float64)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return entries, nil
}

// SessionPost is the stored view of one impression used by bucket reports.
type SessionPost struct {
	SessionID string
	PostID    string
	Group     string
	Bucket    domain.Bucket
}

// LoadSessionPosts returns impressions grouped in session order.
func (r *Repository) LoadSessionPosts(ctx context.Context, since time.Time) ([]SessionPost, error) {
	if r.db == nil {
		return nil, nil
	}

	query := r.builder.
		Select("session_id", "post_id", "source_group", "bucket").
		From("impressions").
		Where(sq.GtOrEq{"shown_at": since.UTC()}).
		OrderBy("session_id", "shown_at", "id")

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query impressions: %w", err)
	}
	defer rows.Close()

	var posts []SessionPost
	for rows.Next() {
		var p SessionPost
		var bucket string
		if err := rows.Scan(&p.SessionID, &p.PostID, &p.Group, &bucket); err != nil {
			return nil, fmt.Errorf("scan impression: %w", err)
		}
		p.Bucket = domain.Bucket(bucket)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return posts, nil
}

// SeenPosts reports which of ids already have an impression in the session.
func (r *Repository) SeenPosts(ctx context.Context, sessionID string, ids []string) (map[string]bool, error) {
	result := map[string]bool{}
	if r.db == nil || len(ids) == 0 {
		return result, nil
	}

	query := r.builder.Select("DISTINCT post_id").From("impressions").Where(sq.Eq{"session_id": sessionID})
	if r.dialect == DialectPostgres {
		query = query.Where("post_id = ANY(?)", pq.StringArray(ids))
	} else {
		query = query.Where(sq.Eq{"post_id": ids})
	}

	rows, err := query.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query seen posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		result[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}
