package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/random4ik-wat/FunPayServe-new-era/internal/runner"
)

// Row is one runner_events record.
type Row struct {
	ID         uuid.UUID
	Kind       string
	OccurredAt time.Time
	Payload    []byte
}

func toRow(ev runner.Event) (Row, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Row{}, err
	}
	return Row{ID: ev.ID, Kind: string(ev.Kind), OccurredAt: ev.At, Payload: payload}, nil
}

// Store persists journal rows.
type Store interface {
	Insert(ctx context.Context, rows []Row) (conflicts int, err error)
	Recent(ctx context.Context, limit int) ([]runner.Event, error)
}

// PostgresStore writes to the runner_events table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (s *PostgresStore) Insert(ctx context.Context, rows []Row) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO runner_events (id, kind, occurred_at, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.Kind, r.OccurredAt, r.Payload)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// Recent returns up to limit events, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]runner.Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT payload FROM runner_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runner events: %w", err)
	}

	payloads, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("scan runner events: %w", err)
	}

	events := make([]runner.Event, 0, len(payloads))
	for _, p := range payloads {
		var ev runner.Event
		if err := json.Unmarshal(p, &ev); err != nil {
			return nil, fmt.Errorf("decode runner event: %w", err)
		}
		events = append(events, ev)
	}
	return events, nil
}
