package pipeline

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/beacon/internal/bus"
	"github.com/nextlevelbuilder/beacon/internal/channels"
	"github.com/nextlevelbuilder/beacon/internal/contextbuild"
	"github.com/nextlevelbuilder/beacon/internal/events"
	"github.com/nextlevelbuilder/beacon/internal/providers"
	"github.com/nextlevelbuilder/beacon/internal/store"
	"github.com/nextlevelbuilder/beacon/internal/tools"
)

const (
	circuitBreakerResult = "Error: Circuit breaker triggered: this tool has been called too many times with the same arguments. Stop and answer with what you have."
	steeringMessage      = "Warning: you appear to be in a loop, calling the same tool with the same arguments repeatedly. Change your approach or answer the user directly."
	stuckFallback        = "I got stuck repeating the same tool call and had to stop. Here is what I have so far."
)

// loopResult carries the outcome of one tool loop run.
type loopResult struct {
	content         string
	streamMessageID string
	turns           int
}

// runToolLoop drives the bounded LLM call / tool execution iteration for
// one inbound message. Streaming and non-streaming paths produce the
// same message-list state; only delivery differs.
func (p *Pipeline) runToolLoop(ctx context.Context, in bus.IncomingMessage, session *store.Session,
	bc *contextbuild.BuiltContext, userText string) (*loopResult, error) {

	msgs := []providers.Message{{Role: "system", Content: bc.SystemContent()}}
	for _, h := range bc.History {
		msgs = append(msgs, providers.Message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: userText})

	toolCtx := tools.WithChannel(tools.WithSessionID(tools.WithUserID(ctx, session.UserID), session.ID), in.Channel)
	detector := tools.NewLoopDetector()
	defs := p.registry.Definitions()

	sa, streaming := p.adapter.(channels.StreamingAdapter)
	if !p.adapter.Capabilities().Has(channels.CapStreaming) {
		streaming = false
	}

	res := &loopResult{}
	for res.turns = 1; res.turns <= maxTurns; res.turns++ {
		req := providers.ChatRequest{
			Messages: msgs,
			Tools:    defs,
			Model:    p.opts.Model,
			Options: map[string]any{
				providers.OptMaxTokens:   p.opts.MaxTokens,
				providers.OptTemperature: p.opts.Temperature,
			},
		}

		var resp *providers.ChatResponse
		var err error
		if streaming {
			resp, err = p.streamTurn(ctx, sa, in, req, res)
		} else {
			resp, err = p.provider.Chat(ctx, req)
		}
		if err != nil {
			return nil, err
		}

		if resp.FinishReason != "tool_calls" || len(resp.ToolCalls) == 0 {
			res.content = resp.Content
			return res, nil
		}

		msgs = append(msgs, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		tripped := false
		for _, tc := range resp.ToolCalls {
			result := p.registry.Execute(toolCtx, tc.Name, tc.Arguments)
			severity := detector.Record(tc.Name, tc.Arguments, result)

			if severity == tools.LoopCircuitBreaker {
				result = circuitBreakerResult
				tripped = true
			}
			msgs = append(msgs, providers.Message{Role: "tool", Content: result, ToolCallID: tc.ID})
			if severity == tools.LoopCritical {
				msgs = append(msgs, providers.Message{Role: "system", Content: steeringMessage})
			}
			if severity != tools.LoopNone {
				slog.Warn("pipeline.tool_loop", "tool", tc.Name, "severity", severity.String(), "session", session.ID)
			}

			p.publish(events.TypeToolExecuted, session.ID, map[string]any{
				"tool": tc.Name, "success": toolSucceeded(result), "channel": in.Channel,
			})
			if tripped {
				break
			}
		}
		if tripped {
			if res.content == "" {
				res.content = stuckFallback
			}
			return res, nil
		}
	}

	// Turn budget exhausted: the last assistant text is the best answer.
	if res.content == "" {
		res.content = lastAssistantText(msgs)
	}
	return res, nil
}

// streamTurn runs one streaming completion, pushing partial text into the
// adapter's placeholder as deltas arrive. The adapter's own edit limiter
// spaces the updates; "not modified" and throttle responses stay inside
// the adapter.
func (p *Pipeline) streamTurn(ctx context.Context, sa channels.StreamingAdapter, in bus.IncomingMessage,
	req providers.ChatRequest, res *loopResult) (*providers.ChatResponse, error) {

	var turnText string
	return p.provider.ChatStream(ctx, req, func(chunk providers.StreamChunk) {
		if chunk.Content == "" {
			return
		}
		turnText += chunk.Content
		res.content = turnText

		if res.streamMessageID == "" {
			id, err := sa.SendStreamingStart(ctx, in.ChannelID, in.ThreadID)
			if err != nil {
				slog.Debug("pipeline.stream_start_failed", "channel", in.Channel, "error", err)
				return
			}
			res.streamMessageID = id
		}
		if err := sa.SendStreamingUpdate(ctx, in.ChannelID, res.streamMessageID, turnText); err != nil {
			slog.Debug("pipeline.stream_update_failed", "channel", in.Channel, "error", err)
		}
	})
}

func lastAssistantText(msgs []providers.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && msgs[i].Content != "" {
			return msgs[i].Content
		}
	}
	return "I ran out of tool-call budget before finishing. Please try again."
}
