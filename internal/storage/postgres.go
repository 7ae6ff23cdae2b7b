package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"cta-engine/internal/condition"
	"cta-engine/internal/config"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// LoadCTAs loads every CTA record. Inactive rows are kept because they can
// still sit inside a fallback chain.
func (s *Store) LoadCTAs(ctx context.Context) ([]CTARow, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, content, status, auto_insert, priority,
		       COALESCE(highlight_template, ''),
		       COALESCE(document_types, '{}'), COALESCE(category_mode, ''), COALESCE(category_ids, '{}'),
		       insertion_direction, insertion_position, fallback_behavior,
		       COALESCE(condition_join, 'all'), conditions, next_fallback_id
		FROM ctas
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query ctas: %w", err)
	}
	defer rows.Close()

	var out []CTARow
	for rows.Next() {
		var (
			r        CTARow
			rawConds []byte
			next     sql.NullInt64
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Content, &r.Status, &r.AutoInsert, &r.Priority,
			&r.HighlightTemplate,
			&r.DocumentTypes, &r.CategoryMode, &r.CategoryIDs,
			&r.Direction, &r.Position, &r.FallbackBehavior,
			&r.ConditionJoin, &rawConds, &next,
		); err != nil {
			return nil, fmt.Errorf("scan cta: %w", err)
		}
		if len(rawConds) > 0 {
			var rules []condition.Rule
			if err := json.Unmarshal(rawConds, &rules); err != nil {
				// a mis-saved condition drops to "no condition"
				log.Warn().Err(err).Int64("cta_id", r.ID).Msg("ignoring unreadable conditions")
			} else {
				r.Conditions = rules
			}
		}
		if next.Valid {
			r.NextFallback = next.Int64
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Document loads the rendering context of one document.
func (s *Store) Document(ctx context.Context, id int64) (DocumentRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		d      DocumentRow
		pinned sql.NullInt64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, type, COALESCE(category_ids, '{}'), cta_opt_out, pinned_cta_id
		FROM documents
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Type, &d.CategoryIDs, &d.OptOut, &pinned)
	if errors.Is(err, pgx.ErrNoRows) {
		return DocumentRow{}, fmt.Errorf("document %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return DocumentRow{}, fmt.Errorf("query document: %w", err)
	}
	if pinned.Valid {
		d.PinnedCTA = pinned.Int64
	}
	return d, nil
}

func (s *Store) ListenChannel() string {
	return "cta_data_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(errors.New("pgx pool is nil"))
	}
	return s.pool
}
