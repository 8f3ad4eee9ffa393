// Package postgres provides the Postgres-backed profile and run-history store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ProfilesTable   string
	HistoryTable    string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// profileColumns lists the profile columns in scan/insert order.
var profileColumns = []string{
	"id", "permalink", "keyword", "discovered_at", "blob_hash",
	"name", "legal_name", "city", "region", "country", "description",
	"website", "email", "linkedin", "phone", "founded",
	"operating_status", "funding_status", "funding_type", "crunchbase_url", "rank",
	"employees", "number_of_employees", "funding_total", "currency",
	"funding_rounds", "investors", "news", "raw",
}

// ProfileStore implements crawler.Store on Postgres.
type ProfileStore struct {
	pool     pool
	profiles string
	history  string
}

// New connects to Postgres.
func New(ctx context.Context, cfg Config) (*ProfileStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.ProfilesTable, cfg.HistoryTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, profilesTable, historyTable string) (*ProfileStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if profilesTable == "" {
		profilesTable = "profiles"
	}
	if historyTable == "" {
		historyTable = "history"
	}
	for _, table := range []string{profilesTable, historyTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &ProfileStore{pool: p, profiles: profilesTable, history: historyTable}, nil
}

// Close releases the underlying pool resources.
func (s *ProfileStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when they do not exist.
func (s *ProfileStore) EnsureSchema(ctx context.Context) error {
	defs := make([]string, 0, len(profileColumns))
	for _, col := range profileColumns {
		switch col {
		case "id":
			defs = append(defs, "id TEXT PRIMARY KEY")
		case "discovered_at":
			defs = append(defs, "discovered_at TIMESTAMPTZ NOT NULL")
		case "raw":
			defs = append(defs, "raw JSONB")
		default:
			defs = append(defs, col+" TEXT NOT NULL DEFAULT ''")
		}
	}
	statements := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", s.profiles, strings.Join(defs, ",\n\t")),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_permalink_idx ON %s (permalink)", s.profiles, s.profiles),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_discovered_at_idx ON %s (discovered_at)", s.profiles, s.profiles),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	run_started_at TIMESTAMPTZ NOT NULL,
	run_completed_at TIMESTAMPTZ NOT NULL
)`, s.history),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// FindFresh reports whether a profile whose id or permalink equals key was discovered at or after since.
func (s *ProfileStore) FindFresh(ctx context.Context, key string, since time.Time) (bool, error) {
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE (id = $1 OR permalink = $1) AND discovered_at >= $2)`,
		s.profiles,
	)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, key, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("find fresh profile: %w", err)
	}
	return exists, nil
}

// UpsertProfile writes or overwrites the row for record.ID.
func (s *ProfileStore) UpsertProfile(ctx context.Context, record crawler.ProfileRecord) error {
	if !record.Valid() {
		return fmt.Errorf("record id is required")
	}
	placeholders := make([]string, len(profileColumns))
	updates := make([]string, 0, len(profileColumns)-1)
	for i, col := range profileColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != "id" {
			updates = append(updates, col+" = EXCLUDED."+col)
		}
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO UPDATE SET %s",
		s.profiles,
		strings.Join(profileColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
	if _, err := s.pool.Exec(ctx, query, profileArgs(record)...); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func profileArgs(r crawler.ProfileRecord) []any {
	var raw []byte
	if len(r.Raw) > 0 {
		raw = []byte(r.Raw)
	}
	return []any{
		r.ID, r.Permalink, r.Keyword, r.DiscoveredAt, r.BlobHash,
		r.Name, r.LegalName, r.City, r.Region, r.Country, r.Description,
		r.Website, r.Email, r.LinkedIn, r.Phone, r.Founded,
		r.OperatingStatus, r.FundingStatus, r.FundingType, r.CrunchbaseURL, r.Rank,
		r.Employees, r.NumberOfEmployees, r.FundingTotal, r.Currency,
		r.FundingRounds, r.Investors, r.News, raw,
	}
}

// ListStale returns profiles discovered before the cutoff, oldest first.
func (s *ProfileStore) ListStale(ctx context.Context, before time.Time) ([]crawler.ProfileRecord, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE discovered_at < $1 ORDER BY discovered_at",
		strings.Join(profileColumns, ", "),
		s.profiles,
	)
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("list stale profiles: %w", err)
	}
	defer rows.Close()

	var out []crawler.ProfileRecord
	for rows.Next() {
		var (
			r   crawler.ProfileRecord
			raw []byte
		)
		if err := rows.Scan(
			&r.ID, &r.Permalink, &r.Keyword, &r.DiscoveredAt, &r.BlobHash,
			&r.Name, &r.LegalName, &r.City, &r.Region, &r.Country, &r.Description,
			&r.Website, &r.Email, &r.LinkedIn, &r.Phone, &r.Founded,
			&r.OperatingStatus, &r.FundingStatus, &r.FundingType, &r.CrunchbaseURL, &r.Rank,
			&r.Employees, &r.NumberOfEmployees, &r.FundingTotal, &r.Currency,
			&r.FundingRounds, &r.Investors, &r.News, &raw,
		); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		r.Raw = raw
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

// InsertHistory records a completed run.
func (s *ProfileStore) InsertHistory(ctx context.Context, mark crawler.HistoryMark) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (run_id, run_started_at, run_completed_at) VALUES ($1, $2, $3)",
		s.history,
	)
	if _, err := s.pool.Exec(ctx, query, mark.RunID, mark.RunStartedAt, mark.RunCompletedAt); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// LatestHistory returns the most recently completed run or crawler.ErrNotFound.
func (s *ProfileStore) LatestHistory(ctx context.Context) (crawler.HistoryMark, error) {
	query := fmt.Sprintf(
		"SELECT run_id, run_started_at, run_completed_at FROM %s ORDER BY run_completed_at DESC LIMIT 1",
		s.history,
	)
	var mark crawler.HistoryMark
	err := s.pool.QueryRow(ctx, query).Scan(&mark.RunID, &mark.RunStartedAt, &mark.RunCompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.HistoryMark{}, crawler.ErrNotFound
	}
	if err != nil {
		return crawler.HistoryMark{}, fmt.Errorf("latest history: %w", err)
	}
	return mark, nil
}
