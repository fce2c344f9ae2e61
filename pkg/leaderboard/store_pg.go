package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx/v5-backed durable half of the Leaderboard: an upsert
// against leaderboard_entries gives last-writer-wins atomic replacement,
// one row per (council_id, backend_id).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens its own pool against dsn.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("leaderboard: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// LoadCouncil loads every entry recorded for one council.
func (s *Store) LoadCouncil(councilID string) ([]Entry, error) {
	ctx := context.Background()
	rows, err := s.pool.Query(ctx,
		`SELECT backend_id, wins, participations, cumulative_score, positions, rubric_scores
		 FROM leaderboard_entries WHERE council_id = $1`,
		councilID,
	)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: load council: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var positionsJSON, rubricJSON []byte
		if err := rows.Scan(&e.BackendID, &e.Wins, &e.Participations, &e.CumulativeScore, &positionsJSON, &rubricJSON); err != nil {
			return nil, fmt.Errorf("leaderboard: load council: scan: %w", err)
		}
		if err := json.Unmarshal(positionsJSON, &e.Positions); err != nil {
			return nil, fmt.Errorf("leaderboard: load council: decode positions: %w", err)
		}
		if err := json.Unmarshal(rubricJSON, &e.RubricScores); err != nil {
			return nil, fmt.Errorf("leaderboard: load council: decode rubric_scores: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Upsert persists entries for councilID with an INSERT ... ON CONFLICT DO
// UPDATE per row, each call atomic and last-writer-wins at the row level.
func (s *Store) Upsert(councilID string, entries []Entry) error {
	ctx := context.Background()
	for _, e := range entries {
		positionsJSON, err := json.Marshal(e.Positions)
		if err != nil {
			return fmt.Errorf("leaderboard: upsert: encode positions: %w", err)
		}
		rubric := e.RubricScores
		if rubric == nil {
			rubric = map[string][]float64{}
		}
		rubricJSON, err := json.Marshal(rubric)
		if err != nil {
			return fmt.Errorf("leaderboard: upsert: encode rubric_scores: %w", err)
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO leaderboard_entries
			   (council_id, backend_id, wins, participations, cumulative_score, positions, rubric_scores, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			 ON CONFLICT (council_id, backend_id) DO UPDATE SET
			   wins = EXCLUDED.wins,
			   participations = EXCLUDED.participations,
			   cumulative_score = EXCLUDED.cumulative_score,
			   positions = EXCLUDED.positions,
			   rubric_scores = EXCLUDED.rubric_scores,
			   updated_at = now()`,
			councilID, e.BackendID, e.Wins, e.Participations, e.CumulativeScore, positionsJSON, rubricJSON,
		)
		if err != nil {
			return fmt.Errorf("leaderboard: upsert %s/%s: %w", councilID, e.BackendID, err)
		}
	}
	return nil
}
