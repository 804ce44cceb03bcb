package parley

import "context"

// Store is the bot-configuration data-access layer.
type Store interface {
	// Init creates all required tables.
	Init(ctx context.Context) error

	// CreateBot inserts a bot and its intents.
	CreateBot(ctx context.Context, bot Bot) error
	// GetBot returns a bot with all of its intents, enabled or not.
	// Returns (nil, nil) when no bot exists for the ID.
	GetBot(ctx context.Context, botID string) (*Bot, error)
	// LoadBotWithEnabledIntents returns a bot with disabled intents filtered
	// out, in configuration order. Returns (nil, nil) when no bot exists.
	LoadBotWithEnabledIntents(ctx context.Context, botID string) (*Bot, error)
	// UpdateBot updates bot-level fields (intents are managed separately).
	UpdateBot(ctx context.Context, bot Bot) error
	// DeleteBot removes a bot and its intents.
	DeleteBot(ctx context.Context, botID string) error
	// ListBots returns up to limit bots, most recently created first,
	// without their intents.
	ListBots(ctx context.Context, limit int) ([]Bot, error)

	// UpsertIntent inserts or replaces one intent config on a bot.
	UpsertIntent(ctx context.Context, botID string, intent IntentConfig) error
	// DeleteIntent removes one intent config by name.
	DeleteIntent(ctx context.Context, botID, name string) error

	Close() error
}
