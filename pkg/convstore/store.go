package convstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements the conversation store contract (get/create/
// append_user/append_assistant/update_title/list/soft_delete) over a single
// Postgres table: one row per conversation, `messages` an append-only
// jsonb array.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens its own pool against dsn, independent of the pool
// pkg/database.Client uses to run migrations.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("convstore: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("convstore: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Create inserts a new, empty conversation. The title defaults to a
// short id-derived placeholder until title generation replaces it.
func (s *Store) Create(ctx context.Context, id, councilID string) (*Record, error) {
	title := fmt.Sprintf("Conversation %s", shortID(id))
	rec := &Record{
		ID:        id,
		CouncilID: councilID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		Messages:  []Message{},
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, council_id, title, created_at, messages)
		 VALUES ($1, $2, $3, $4, '[]'::jsonb)`,
		rec.ID, rec.CouncilID, rec.Title, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("convstore: create: %w", err)
	}
	return rec, nil
}

// Get fetches a conversation record by id, returning (nil, nil) if absent.
// Conversations share one flat id-keyed namespace, so a single primary-key
// lookup finds the record regardless of which council created it.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	var messagesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, council_id, title, created_at, deleted_at, messages
		 FROM conversations WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.CouncilID, &rec.Title, &rec.CreatedAt, &rec.DeletedAt, &messagesJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("convstore: get: %w", err)
	}
	if err := json.Unmarshal(messagesJSON, &rec.Messages); err != nil {
		return nil, fmt.Errorf("convstore: get: decode messages: %w", err)
	}
	return &rec, nil
}

// AppendUser appends a user utterance to the conversation's message log.
func (s *Store) AppendUser(ctx context.Context, id, content string) error {
	msg := Message{Role: RoleUser, Content: content}
	return s.appendMessage(ctx, id, msg)
}

// AssistantMessage bundles the fields AppendAssistant accepts.
type AssistantMessage struct {
	Stage1   []Stage1Record
	Stage2   []Stage2Record
	Stage3   Stage3Record
	Analysis *AnalysisRecord
	Panel    []PanelMemberRecord
	Usage    *UsageByStageRecord
}

// AppendAssistant appends an assistant record to the conversation's message
// log. Stage1/Stage2/Stage3 are always included; Analysis/Panel/Usage are
// included only when set.
func (s *Store) AppendAssistant(ctx context.Context, id string, am AssistantMessage) error {
	msg := Message{
		Role:     RoleAssistant,
		Stage1:   am.Stage1,
		Stage2:   am.Stage2,
		Stage3:   &am.Stage3,
		Analysis: am.Analysis,
		Panel:    am.Panel,
		Usage:    am.Usage,
	}
	return s.appendMessage(ctx, id, msg)
}

// appendMessage performs the atomic jsonb append `messages = messages ||
// $1::jsonb`, which Postgres guarantees is atomic at the single-row
// granularity the conversation store contract requires.
func (s *Store) appendMessage(ctx context.Context, id string, msg Message) error {
	payload, err := json.Marshal([]Message{msg})
	if err != nil {
		return fmt.Errorf("convstore: encode message: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET messages = messages || $1::jsonb WHERE id = $2`,
		payload, id,
	)
	if err != nil {
		return fmt.Errorf("convstore: append: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("convstore: append: conversation %s not found", id)
	}
	return nil
}

// UpdateTitle sets a conversation's title, used by best-effort title
// generation.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET title = $1 WHERE id = $2`,
		title, id,
	)
	if err != nil {
		return fmt.Errorf("convstore: update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("convstore: update title: conversation %s not found", id)
	}
	return nil
}

// List returns conversation summaries sorted by created_at descending,
// optionally filtered to one council.
func (s *Store) List(ctx context.Context, councilID string) ([]Summary, error) {
	var rows pgx.Rows
	var err error
	if councilID != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT id, council_id, created_at, title,
			        jsonb_array_length(messages), deleted_at IS NOT NULL
			 FROM conversations WHERE council_id = $1 ORDER BY created_at DESC`,
			councilID,
		)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, council_id, created_at, title,
			        jsonb_array_length(messages), deleted_at IS NOT NULL
			 FROM conversations ORDER BY created_at DESC`,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("convstore: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.ID, &sum.CouncilID, &sum.CreatedAt, &sum.Title, &sum.MessageCount, &sum.Deleted); err != nil {
			return nil, fmt.Errorf("convstore: list: scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convstore: list: %w", err)
	}
	return out, nil
}

// SoftDelete marks a conversation deleted without removing its row.
func (s *Store) SoftDelete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("convstore: soft delete: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewID generates a fresh conversation id.
func NewID() string {
	return uuid.NewString()
}
