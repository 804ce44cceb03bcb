// Package parley is a conversational flow orchestration engine: it routes a
// user's chat turn through intent clarity checking, intent detection,
// required-parameter resolution and one of several handler strategies,
// streaming framed output back incrementally.
//
// # Quick Start
//
//	store := sqlite.New("parley.db")
//	provider := openaicompat.NewProvider(apiKey, model, baseURL)
//	runner := sandbox.NewSubprocessRunner("node")
//
//	engine := parley.NewEngine(store, provider,
//		parley.WithHandlerRunner(runner),
//		parley.WithFetch(fetch.New().Do),
//	)
//
//	err := engine.Process(ctx, botID, messages, reqCtx, w)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider]: text-generation backend (complete and streamed responses)
//   - [Store]: bot-configuration persistence
//   - [HandlerRunner]: sandboxed execution of FUNCTIONAL intent handlers
//   - [Capabilities]: the enumerated surface sandboxed code may touch
//
// # Output framing
//
// All terminal output is wrapped in literal start/end delimiters
// (MESSAGE_START|...|MESSAGE_END| and JSON_START|...|JSON_END|) so one byte
// stream can carry delimited heterogeneous frames. Payloads are not escaped;
// see [FrameMessage].
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs), provider/gemini
// (Google Gemini). Storage: store/sqlite (local), store/postgres.
// Sandbox: sandbox (Node.js subprocess with a JSON capability bridge).
//
// See cmd/parleyd for a complete hosting process.
package parley
