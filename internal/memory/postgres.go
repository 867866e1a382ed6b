package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation logs in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			author_id TEXT NOT NULL DEFAULT '',
			author_name TEXT NOT NULL DEFAULT '',
			seq BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_channel_seq ON conversation_turns (channel_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const insertTurnSQL = `INSERT INTO conversation_turns (id, channel_id, role, content, author_id, author_name, created_at)
 VALUES ($1, $2, $3, $4, $5, $6, $7)`

func turnArgs(turn Turn) []any {
	return []any{
		turn.ID,
		turn.ChannelID,
		string(turn.Role),
		turn.Content,
		turn.AuthorID,
		turn.AuthorName,
		turn.CreatedAt,
	}
}

func (s *PostgresStore) AppendTurn(ctx context.Context, turn Turn) error {
	turn = withDefaults(turn)
	if _, err := s.pool.Exec(ctx, insertTurnSQL, turnArgs(turn)...); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// AppendExchange writes both turns in one transaction so a failure cannot
// leave a lone user turn in the log.
func (s *PostgresStore) AppendExchange(ctx context.Context, userTurn, assistantTurn Turn) error {
	userTurn = withDefaults(userTurn)
	assistantTurn = withDefaults(assistantTurn)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin exchange: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, turn := range []Turn{userTurn, assistantTurn} {
		if _, err := tx.Exec(ctx, insertTurnSQL, turnArgs(turn)...); err != nil {
			return fmt.Errorf("append exchange turn: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit exchange: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, channelID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	// seq, not created_at, is the append order: two turns of one exchange can
	// share a timestamp.
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, role, content, author_id, author_name, created_at
		 FROM conversation_turns WHERE channel_id=$1 ORDER BY seq DESC LIMIT $2`,
		channelID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	items := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.ID, &t.ChannelID, &role, &t.Content, &t.AuthorID, &t.AuthorName, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = Role(role)
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}

	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
