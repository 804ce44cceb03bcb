// Package sqlite implements parley.Store using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	parley "github.com/novandi/parley"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing, row counts, and key parameters. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements parley.Store backed by a local SQLite file.
// Slice-valued bot fields are stored as JSON text columns.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ parley.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS bots (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			greeting_message TEXT,
			guidelines TEXT,
			strict_intent_detection INTEGER NOT NULL DEFAULT 0,
			allowed_origins TEXT,
			quick_actions TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS intents (
			bot_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			required_fields TEXT,
			enabled INTEGER NOT NULL DEFAULT 1,
			handler_type TEXT NOT NULL DEFAULT '',
			handler_content TEXT,
			handler_guidelines TEXT,
			PRIMARY KEY (bot_id, name)
		)`,
	}

	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_intents_bot ON intents(bot_id)`)

	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// CreateBot inserts a bot and its intents in a single transaction.
func (s *Store) CreateBot(ctx context.Context, bot parley.Bot) error {
	start := time.Now()
	s.logger.Debug("sqlite: create bot", "id", bot.ID, "name", bot.Name, "intents", len(bot.Intents))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	origins, actions := marshalBotJSON(bot)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bots (id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bot.ID, bot.Name, bot.GreetingMessage, bot.Guidelines,
		boolToInt(bot.StrictIntentDetection), origins, actions, bot.CreatedAt, bot.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: create bot failed", "id", bot.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("create bot: %w", err)
	}

	for _, ic := range bot.Intents {
		if err := upsertIntentTx(ctx, tx, bot.ID, ic); err != nil {
			s.logger.Error("sqlite: create bot intent failed", "id", bot.ID, "intent", ic.Name, "error", err)
			return fmt.Errorf("create bot intent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: create bot commit failed", "id", bot.ID, "error", err)
		return err
	}
	s.logger.Debug("sqlite: create bot ok", "id", bot.ID, "duration", time.Since(start))
	return nil
}

// GetBot returns a bot with all of its intents, enabled or not.
// Returns (nil, nil) when no bot with that ID exists.
func (s *Store) GetBot(ctx context.Context, botID string) (*parley.Bot, error) {
	return s.loadBot(ctx, botID, false)
}

// LoadBotWithEnabledIntents returns a bot together with its enabled intents.
// Disabled intents are filtered out at the query level. Returns (nil, nil)
// when no bot with that ID exists.
func (s *Store) LoadBotWithEnabledIntents(ctx context.Context, botID string) (*parley.Bot, error) {
	return s.loadBot(ctx, botID, true)
}

func (s *Store) loadBot(ctx context.Context, botID string, enabledOnly bool) (*parley.Bot, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load bot", "id", botID, "enabled_only", enabledOnly)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at
		 FROM bots WHERE id = ?`, botID)
	bot, err := scanBot(row)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: load bot not found", "id", botID, "duration", time.Since(start))
		return nil, nil
	}
	if err != nil {
		s.logger.Error("sqlite: load bot failed", "id", botID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load bot: %w", err)
	}

	query := `SELECT name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines
		 FROM intents WHERE bot_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, botID)
	if err != nil {
		s.logger.Error("sqlite: load intents failed", "bot_id", botID, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("load intents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ic, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		bot.Intents = append(bot.Intents, ic)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	s.logger.Debug("sqlite: load bot ok", "id", botID, "intents", len(bot.Intents), "duration", time.Since(start))
	return bot, nil
}

// UpdateBot updates bot-level fields. Intents are managed via UpsertIntent
// and DeleteIntent.
func (s *Store) UpdateBot(ctx context.Context, bot parley.Bot) error {
	start := time.Now()
	s.logger.Debug("sqlite: update bot", "id", bot.ID)

	origins, actions := marshalBotJSON(bot)
	_, err := s.db.ExecContext(ctx,
		`UPDATE bots SET name=?, greeting_message=?, guidelines=?, strict_intent_detection=?, allowed_origins=?, quick_actions=?, updated_at=? WHERE id=?`,
		bot.Name, bot.GreetingMessage, bot.Guidelines,
		boolToInt(bot.StrictIntentDetection), origins, actions, bot.UpdatedAt, bot.ID,
	)
	if err != nil {
		s.logger.Error("sqlite: update bot failed", "id", bot.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("update bot: %w", err)
	}
	s.logger.Debug("sqlite: update bot ok", "id", bot.ID, "duration", time.Since(start))
	return nil
}

// DeleteBot removes a bot and its intents.
func (s *Store) DeleteBot(ctx context.Context, botID string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete bot", "id", botID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM intents WHERE bot_id = ?`, botID); err != nil {
		s.logger.Error("sqlite: delete bot intents failed", "id", botID, "error", err)
		return fmt.Errorf("delete bot intents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM bots WHERE id = ?`, botID); err != nil {
		s.logger.Error("sqlite: delete bot failed", "id", botID, "error", err)
		return fmt.Errorf("delete bot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: delete bot commit failed", "id", botID, "error", err)
		return err
	}
	s.logger.Debug("sqlite: delete bot ok", "id", botID, "duration", time.Since(start))
	return nil
}

// ListBots returns bots without their intents, ordered by creation time
// (newest first).
func (s *Store) ListBots(ctx context.Context, limit int) ([]parley.Bot, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list bots", "limit", limit)

	query := `SELECT id, name, greeting_message, guidelines, strict_intent_detection, allowed_origins, quick_actions, created_at, updated_at
		 FROM bots ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("sqlite: list bots failed", "error", err)
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	var bots []parley.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, *bot)
	}
	s.logger.Debug("sqlite: list bots ok", "count", len(bots), "duration", time.Since(start))
	return bots, rows.Err()
}

// UpsertIntent inserts or replaces an intent configuration for a bot.
func (s *Store) UpsertIntent(ctx context.Context, botID string, intent parley.IntentConfig) error {
	start := time.Now()
	s.logger.Debug("sqlite: upsert intent", "bot_id", botID, "name", intent.Name, "handler_type", intent.Handler.Type)

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO intents (bot_id, name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		botID, intent.Name, intent.Description, intent.RequiredFields,
		boolToInt(intent.Enabled), string(intent.Handler.Type), intent.Handler.Content, intent.Handler.Guidelines,
	)
	if err != nil {
		s.logger.Error("sqlite: upsert intent failed", "bot_id", botID, "name", intent.Name, "error", err, "duration", time.Since(start))
		return fmt.Errorf("upsert intent: %w", err)
	}
	s.logger.Debug("sqlite: upsert intent ok", "bot_id", botID, "name", intent.Name, "duration", time.Since(start))
	return nil
}

func upsertIntentTx(ctx context.Context, tx *sql.Tx, botID string, intent parley.IntentConfig) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO intents (bot_id, name, description, required_fields, enabled, handler_type, handler_content, handler_guidelines)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		botID, intent.Name, intent.Description, intent.RequiredFields,
		boolToInt(intent.Enabled), string(intent.Handler.Type), intent.Handler.Content, intent.Handler.Guidelines,
	)
	return err
}

// DeleteIntent removes one intent configuration from a bot.
func (s *Store) DeleteIntent(ctx context.Context, botID, name string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete intent", "bot_id", botID, "name", name)

	_, err := s.db.ExecContext(ctx, `DELETE FROM intents WHERE bot_id = ? AND name = ?`, botID, name)
	if err != nil {
		s.logger.Error("sqlite: delete intent failed", "bot_id", botID, "name", name, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete intent: %w", err)
	}
	s.logger.Debug("sqlite: delete intent ok", "bot_id", botID, "name", name, "duration", time.Since(start))
	return nil
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (*parley.Bot, error) {
	var b parley.Bot
	var greeting, guidelines, origins, actions sql.NullString
	var strict int
	err := row.Scan(&b.ID, &b.Name, &greeting, &guidelines, &strict, &origins, &actions, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.GreetingMessage = greeting.String
	b.Guidelines = guidelines.String
	b.StrictIntentDetection = strict != 0
	if origins.Valid && origins.String != "" {
		_ = json.Unmarshal([]byte(origins.String), &b.AllowedOrigins)
	}
	if actions.Valid && actions.String != "" {
		b.QuickActions = json.RawMessage(actions.String)
	}
	return &b, nil
}

func scanIntent(rows *sql.Rows) (parley.IntentConfig, error) {
	var ic parley.IntentConfig
	var description, requiredFields, handlerType, content, guidelines sql.NullString
	var enabled int
	err := rows.Scan(&ic.Name, &description, &requiredFields, &enabled, &handlerType, &content, &guidelines)
	if err != nil {
		return parley.IntentConfig{}, err
	}
	ic.Description = description.String
	if requiredFields.Valid {
		v := requiredFields.String
		ic.RequiredFields = &v
	}
	ic.Enabled = enabled != 0
	ic.Handler.Type = parley.HandlerType(handlerType.String)
	if content.Valid {
		v := content.String
		ic.Handler.Content = &v
	}
	if guidelines.Valid {
		v := guidelines.String
		ic.Handler.Guidelines = &v
	}
	return ic, nil
}

func marshalBotJSON(bot parley.Bot) (origins, actions *string) {
	if len(bot.AllowedOrigins) > 0 {
		data, _ := json.Marshal(bot.AllowedOrigins)
		v := string(data)
		origins = &v
	}
	if len(bot.QuickActions) > 0 {
		v := string(bot.QuickActions)
		actions = &v
	}
	return origins, actions
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
