package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrStreamChunks = attribute.Key("llm.stream_chunks")

	AttrHandlerStatus       = attribute.Key("handler.status")
	AttrHandlerExitCode     = attribute.Key("handler.exit_code")
	AttrHandlerOutputLength = attribute.Key("handler.output_length")

	AttrBotID      = attribute.Key("bot.id")
	AttrTurnStatus = attribute.Key("turn.status")
)
