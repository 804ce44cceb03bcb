package parley

import (
	"context"
	"fmt"
	"strings"
)

// The three generation flows share one micro-protocol: open a streamed
// message frame, relay every upstream chunk the moment it arrives, close the
// frame. If the provider call itself fails the flow returns the error with
// the frame still open; the engine terminates it (Emitter.CloseOpenFrame)
// so the stream never ends mid-frame.

// streamFlow drives one streamed provider call through the emitter.
func streamFlow(ctx context.Context, p Provider, em *Emitter, req ChatRequest) error {
	ch := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		_, err := p.ChatStream(ctx, req, ch)
		errCh <- err
	}()

	em.BeginMessage()
	for chunk := range ch {
		em.Chunk(chunk)
	}
	if err := <-errCh; err != nil {
		return err
	}
	em.EndMessage()
	return nil
}

// GeneralQuestionFlow answers the user's turn as free-form Q&A over the full
// history, with the bot's guidelines prepended as a system turn.
func GeneralQuestionFlow(ctx context.Context, p Provider, em *Emitter, bot *Bot, messages []ChatMessage) error {
	msgs := make([]ChatMessage, 0, len(messages)+1)
	if strings.TrimSpace(bot.Guidelines) != "" {
		msgs = append(msgs, SystemMessage(bot.Guidelines))
	}
	msgs = append(msgs, messages...)
	return streamFlow(ctx, p, em, ChatRequest{Messages: msgs})
}

// askParamsPrompt produces a prompt that only asks the user for the missing
// field values. Answering the underlying question here would short-circuit
// parameter collection.
const askParamsPrompt = `The user asked for %q but did not supply the following required details: %s.

Write ONE short, friendly message asking the user to provide exactly these details. Do not answer the user's request itself and do not ask for anything else.`

// AskParametersFlow streams a prompt asking the user to supply the missing
// required fields for a detected intent.
func AskParametersFlow(ctx context.Context, p Provider, em *Emitter, intentName, missingFields string) error {
	req := ChatRequest{Messages: []ChatMessage{
		SystemMessage(fmt.Sprintf(askParamsPrompt, intentName, missingFields)),
	}}
	return streamFlow(ctx, p, em, req)
}

// GuidedResponseFlow streams a single answer shaped by bot-level guidelines,
// the intent handler's own guidelines, and the current question.
func GuidedResponseFlow(ctx context.Context, p Provider, em *Emitter, bot *Bot, handlerGuidelines, question string) error {
	var b strings.Builder
	b.WriteString("Answer the user's question below.")
	if strings.TrimSpace(bot.Guidelines) != "" {
		b.WriteString("\n\n## Bot guidelines\n")
		b.WriteString(bot.Guidelines)
	}
	if strings.TrimSpace(handlerGuidelines) != "" {
		b.WriteString("\n\n## Response guidelines\n")
		b.WriteString(handlerGuidelines)
	}
	b.WriteString("\n\n## Question\n")
	b.WriteString(question)

	req := ChatRequest{Messages: []ChatMessage{SystemMessage(b.String())}}
	return streamFlow(ctx, p, em, req)
}
