// Package postgres implements parley.Store using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	parley "github.com/novandi/parley"
)

// Store implements parley.Store backed by PostgreSQL. Slice-valued bot
// fields are stored as JSONB columns.
type Store struct {
	pool *pgxpool.Pool
}

var _ parley.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			greeting_message TEXT NOT NULL DEFAULT '',
			guidelines TEXT NOT NULL DEFAULT '',
			strict_intent_detection BOOLEAN NOT NULL DEFAULT FALSE,
			allowed_origins JSONB,
			quick_actions JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS intents (
			bot_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			required_fields TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			handler_type TEXT NOT NULL DEFAULT '',
			handler_content TEXT,
			handler_guidelines TEXT,
			position SERIAL,
			PRIMARY KEY (bot_id, name)
		)`,
		`CREATE INDEX IF NOT EXISTS intents_bot_idx ON intents(bot_id)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// CreateBot inserts a bot and its intents in a single transaction.
func (s *Store) CreateBot(ctx context.Context, bot parley.Bot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	origins, actions := marshalBotJSON(bot)
	_, err = tx.Exec(ctx,
		`INSERT INTO bots (id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		bot.ID, bot.Name, bot.GreetingMessage, bot.Guidelines,
		bot.StrictIntentDetection, origins, actions, bot.CreatedAt, bot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	for _, ic := range bot.Intents {
		if err := upsertIntentTx(ctx, tx, bot.ID, ic); err != nil {
			return fmt.Errorf("create bot intent: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetBot returns a bot with all of its intents, enabled or not.
// Returns (nil, nil) when no bot with that ID exists.
func (s *Store) GetBot(ctx context.Context, botID string) (*parley.Bot, error) {
	return s.loadBot(ctx, botID, false)
}

// LoadBotWithEnabledIntents returns a bot together with its enabled intents.
// Returns (nil, nil) when no bot with that ID exists.
func (s *Store) LoadBotWithEnabledIntents(ctx context.Context, botID string) (*parley.Bot, error) {
	return s.loadBot(ctx, botID, true)
}

func (s *Store) loadBot(ctx context.Context, botID string, enabledOnly bool) (*parley.Bot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at
		 FROM bots WHERE id = $1`, botID)

	var b parley.Bot
	var origins, actions []byte
	err := row.Scan(&b.ID, &b.Name, &b.GreetingMessage, &b.Guidelines, &b.StrictIntentDetection, &origins, &actions, &b.CreatedAt, &b.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load bot: %w", err)
	}
	if len(origins) > 0 {
		_ = json.Unmarshal(origins, &b.AllowedOrigins)
	}
	if len(actions) > 0 {
		b.QuickActions = json.RawMessage(actions)
	}

	query := `SELECT name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines
		 FROM intents WHERE bot_id = $1`
	if enabledOnly {
		query += ` AND enabled`
	}
	query += ` ORDER BY position`

	rows, err := s.pool.Query(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("load intents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ic parley.IntentConfig
		var handlerType string
		if err := rows.Scan(&ic.Name, &ic.Description, &ic.RequiredFields, &ic.Enabled, &handlerType, &ic.Handler.Content, &ic.Handler.Guidelines); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		ic.Handler.Type = parley.HandlerType(handlerType)
		b.Intents = append(b.Intents, ic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	return &b, nil
}

// UpdateBot updates bot-level fields. Intents are managed via UpsertIntent
// and DeleteIntent.
func (s *Store) UpdateBot(ctx context.Context, bot parley.Bot) error {
	origins, actions := marshalBotJSON(bot)
	_, err := s.pool.Exec(ctx,
		`UPDATE bots SET name=$1, greeting_message=$2, guidelines=$3, strict_intent_detection=$4, allowed_origins=$5, quick_actions=$6, updated_at=$7 WHERE id=$8`,
		bot.Name, bot.GreetingMessage, bot.Guidelines,
		bot.StrictIntentDetection, origins, actions, bot.UpdatedAt, bot.ID,
	)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	return nil
}

// DeleteBot removes a bot and its intents.
func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM intents WHERE bot_id = $1`, botID); err != nil {
		return fmt.Errorf("delete bot intents: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM bots WHERE id = $1`, botID); err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ListBots returns bots without their intents, ordered by creation time
// (newest first).
func (s *Store) ListBots(ctx context.Context, limit int) ([]parley.Bot, error) {
	query := `SELECT id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at
		 FROM bots ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []parley.Bot
	for rows.Next() {
		var b parley.Bot
		var origins, actions []byte
		if err := rows.Scan(&b.ID, &b.Name, &b.GreetingMessage, &b.Guidelines, &b.StrictIntentDetection, &origins, &actions, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		if len(origins) > 0 {
			_ = json.Unmarshal(origins, &b.AllowedOrigins)
		}
		if len(actions) > 0 {
			b.QuickActions = json.RawMessage(actions)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// UpsertIntent inserts or replaces an intent configuration for a bot.
func (s *Store) UpsertIntent(ctx context.Context, botID string, intent parley.IntentConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO intents (bot_id, name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (bot_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			required_fields = EXCLUDED.required_fields,
			enabled = EXCLUDED.enabled,
			handler_type = EXCLUDED.handler_type,
			handler_content = EXCLUDED.handler_content,
			handler_guidelines = EXCLUDED.handler_guidelines`,
		botID, intent.Name, intent.Description, intent.RequiredFields,
		intent.Enabled, string(intent.Handler.Type), intent.Handler.Content, intent.Handler.Guidelines,
	)
	if err != nil {
		return fmt.Errorf("upsert intent: %w", err)
	}
	return nil
}

func upsertIntentTx(ctx context.Context, tx pgx.Tx, botID string, intent parley.IntentConfig) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO intents (bot_id, name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (bot_id, name) DO UPDATE SET
			description = EXCLUDED.description,
			required_fields = EXCLUDED.required_fields,
			enabled = EXCLUDED.enabled,
			handler_type = EXCLUDED.handler_type,
			handler_content = EXCLUDED.handler_content,
			handler_guidelines = EXCLUDED.handler_guidelines`,
		botID, intent.Name, intent.Description, intent.RequiredFields,
		intent.Enabled, string(intent.Handler.Type), intent.Handler.Content, intent.Handler.Guidelines,
	)
	return err
}

// DeleteIntent removes one intent configuration from a bot.
func (s *Store) DeleteIntent(ctx context.Context, botID, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM intents WHERE bot_id = $1 AND name = $2`, botID, name)
	if err != nil {
		return fmt.Errorf("delete intent: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the pool.
func (s *Store) Close() error {
	return nil
}

func marshalBotJSON(bot parley.Bot) (origins, actions []byte) {
	if len(bot.AllowedOrigins) > 0 {
		origins, _ = json.Marshal(bot.AllowedOrigins)
	}
	if len(bot.QuickActions) > 0 {
		actions = []byte(bot.QuickActions)
	}
	return origins, actions
}
