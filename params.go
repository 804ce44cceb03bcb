package parley

import "strings"

// Resolution is the outcome of required-parameter resolution for one
// detected intent: the intent's handler plus the still-missing fields, so
// the dispatcher need not re-look-up configuration.
type Resolution struct {
	Intent  IntentConfig
	Handler HandlerConfig
	// MissingFields is a human-readable comma list of required fields not
	// present in the detected parameters. Empty when nothing is missing.
	MissingFields string
}

// Complete reports whether every required field was supplied.
func (r Resolution) Complete() bool { return r.MissingFields == "" }

// ResolveRequiredParams looks up the detected intent's configuration on the
// bot and computes which required fields the extracted parameters still
// lack. A detected name with no matching config is a data-consistency fault
// (ErrIntentConfigNotFound), surfaced rather than guessed at.
func ResolveRequiredParams(bot *Bot, entry DetectedIntent) (Resolution, error) {
	var intent *IntentConfig
	for i := range bot.Intents {
		if bot.Intents[i].Name == entry.IntentName {
			intent = &bot.Intents[i]
			break
		}
	}
	if intent == nil {
		return Resolution{}, &ErrIntentConfigNotFound{BotID: bot.ID, Intent: entry.IntentName}
	}

	res := Resolution{Intent: *intent, Handler: intent.Handler}
	if intent.RequiredFields == nil {
		return res, nil
	}

	var missing []string
	for _, field := range SplitFields(*intent.RequiredFields) {
		if !present(entry.Parameters, field) {
			missing = append(missing, field)
		}
	}
	res.MissingFields = strings.Join(missing, ", ")
	return res, nil
}

// SplitFields splits a configured comma-separated field list, normalizing
// whitespace and tolerating trailing commas.
func SplitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// present reports whether params carries a non-falsy value for field.
// Absent, nil, empty-string, false and zero values all count as missing.
func present(params map[string]any, field string) bool {
	v, ok := params[field]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
