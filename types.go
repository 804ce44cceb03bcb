package parley

import "encoding/json"

// --- Conversation types ---

// ChatMessage is a single conversation turn. The caller supplies the full
// ordered history on every request; the engine may prepend a synthetic system
// turn but never mutates caller-supplied turns.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// --- Bot configuration (database records) ---

// Bot is the per-bot configuration loaded once per request. Read-only within
// a flow; safe to share across concurrent requests.
type Bot struct {
	ID                    string          `json:"id"`
	Name                  string          `json:"name"`
	GreetingMessage       string          `json:"greeting_message"`
	Guidelines            string          `json:"guidelines"`
	StrictIntentDetection bool            `json:"strict_intent_detection"`
	AllowedOrigins        []string        `json:"allowed_origins"`
	Intents               []IntentConfig  `json:"intents"`
	QuickActions          json.RawMessage `json:"quick_actions,omitempty"`
	CreatedAt             int64           `json:"created_at"`
	UpdatedAt             int64           `json:"updated_at"`
}

// EnabledIntents returns the bot's enabled intents in configuration order.
func (b *Bot) EnabledIntents() []IntentConfig {
	var out []IntentConfig
	for _, ic := range b.Intents {
		if ic.Enabled {
			out = append(out, ic)
		}
	}
	return out
}

// OriginAllowed reports whether origin is in the bot's allowed-origin set.
// A bot with no configured origins accepts any origin.
func (b *Bot) OriginAllowed(origin string) bool {
	if len(b.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range b.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// IntentConfig is one named category of user request a bot can fulfil.
type IntentConfig struct {
	Name        string `json:"name"` // unique within the bot
	Description string `json:"description"`
	// RequiredFields is a comma-separated field-name list. Nil means the
	// intent needs no parameter-resolution step.
	RequiredFields *string       `json:"required_fields,omitempty"`
	Enabled        bool          `json:"enabled"`
	Handler        HandlerConfig `json:"handler"`
}

// HandlerType selects the strategy that produces an intent's final response.
type HandlerType string

const (
	// HandlerNonFunctional replies with the handler's fixed content text.
	HandlerNonFunctional HandlerType = "NONFUNCTIONAL"
	// HandlerFunctional runs the handler's base64-encoded procedure in the
	// sandboxed executor.
	HandlerFunctional HandlerType = "FUNCTIONAL"
	// HandlerModelResponse generates a guided model answer from the
	// handler's guidelines.
	HandlerModelResponse HandlerType = "MODELRESPONSE"
)

// HandlerConfig binds an intent to its response strategy.
//
// Content is populated for NONFUNCTIONAL/FUNCTIONAL and nil for MODELRESPONSE;
// Guidelines is populated only for MODELRESPONSE. A violation is a
// configuration error, not a runtime one.
type HandlerConfig struct {
	Type       HandlerType `json:"type"`
	Content    *string     `json:"content,omitempty"`
	Guidelines *string     `json:"guidelines,omitempty"`
}

// --- Intent detection ---

// DetectionCode classifies the outcome of intent detection for one entry.
type DetectionCode string

const (
	IntentFound         DetectionCode = "INTENT_FOUND"
	IntentUnclear       DetectionCode = "INTENT_UN_CLEAR"
	IntentConfigMissing DetectionCode = "INTENT_CONFIG_NOT_FOUND"
	NoIntentConfigured  DetectionCode = "NO_INTENT_IS_CONFIGURED"
)

// DetectedIntent is one entry of an intent detection result. A single turn
// may yield several entries; multi-intent is a first-class outcome.
// Produced fresh per request, never persisted.
type DetectedIntent struct {
	Code           DetectionCode  `json:"code"`
	IntentName     string         `json:"intent_name,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	QuestionToUser string         `json:"question_to_user,omitempty"`
	// Strict carries the bot's strictIntentDetection flag on synthesized
	// entries so downstream routing matches the real detection path.
	Strict bool `json:"-"`
}

// --- Transport context ---

// RequestContext carries the transport-level request metadata the engine
// needs: the origin-check inputs, plus the headers forwarded into FUNCTIONAL
// handler sandboxes.
type RequestContext struct {
	Origin  string            // Origin header, empty when absent
	Host    string            // Host header
	Headers map[string]string // forwarded into the handler capability context
}

// SameHost reports whether the request originated from the host serving the
// bot, in which case the allowed-origin check is bypassed.
func (rc RequestContext) SameHost() bool {
	if rc.Origin == "" {
		return true
	}
	return stripScheme(rc.Origin) == rc.Host
}

func stripScheme(origin string) string {
	for _, p := range []string{"https://", "http://"} {
		if len(origin) > len(p) && origin[:len(p)] == p {
			return origin[len(p):]
		}
	}
	return origin
}
