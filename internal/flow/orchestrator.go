// Package flow implements the per-turn orchestration of the intake
// conversation: prompt assembly, the model call, tool execution, ledger
// bookkeeping, and the widget drain that runs between model turns.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"

	"github.com/BTreeMap/IntakePipe/internal/genai"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/session"
	"github.com/BTreeMap/IntakePipe/internal/stage"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// Default orchestration limits.
const (
	// DefaultHistoryBlocks caps how many ledger blocks feed the prompt.
	DefaultHistoryBlocks = 10
	// DefaultMaxToolRounds caps model round-trips within one turn.
	DefaultMaxToolRounds = 5
	// DefaultMaxWidgetDrains caps consecutive widget resolutions between two
	// real user inputs. Each drain can trigger another model turn, so this is
	// the ceiling on the automatic follow-up cascade.
	DefaultMaxWidgetDrains = 4
)

// modelErrorReply is shown to the user when the model call itself fails. The
// turn's ledger block stays open so the failure is visible in the dump, and
// the session keeps going.
const modelErrorReply = "Sorry, I ran into a problem reaching the language model. Please try again."

// WidgetUI presents a pending widget question and returns the selected
// value. answered is false when the user cancels; a cancel never mutates
// any data.
type WidgetUI interface {
	PresentWidget(ctx context.Context, info *models.WidgetInfo) (value string, answered bool, err error)
}

// Config holds the orchestrator's tunable limits. Zero values fall back to
// the package defaults.
type Config struct {
	HistoryBlocks   int
	MaxToolRounds   int
	MaxWidgetDrains int
}

// Orchestrator drives one intake conversation from greeting to completion.
type Orchestrator struct {
	genaiClient genai.ClientInterface
	store       store.Store
	tools       *IntakeTools
	coordinator *stage.Coordinator
	ledger      *session.Ledger
	prompts     Prompts
	widgetUI    WidgetUI

	historyBlocks   int
	maxToolRounds   int
	maxWidgetDrains int
}

// NewOrchestrator wires the turn orchestrator. widgetUI may be nil; pending
// widgets are then answered from test mode scripts or cancelled.
func NewOrchestrator(client genai.ClientInterface, st store.Store, tools *IntakeTools, coordinator *stage.Coordinator, ledger *session.Ledger, prompts Prompts, widgetUI WidgetUI, cfg Config) *Orchestrator {
	if cfg.HistoryBlocks <= 0 {
		cfg.HistoryBlocks = DefaultHistoryBlocks
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.MaxWidgetDrains <= 0 {
		cfg.MaxWidgetDrains = DefaultMaxWidgetDrains
	}
	slog.Debug("Orchestrator.NewOrchestrator: created",
		"historyBlocks", cfg.HistoryBlocks, "maxToolRounds", cfg.MaxToolRounds, "maxWidgetDrains", cfg.MaxWidgetDrains)
	return &Orchestrator{
		genaiClient:     client,
		store:           st,
		tools:           tools,
		coordinator:     coordinator,
		ledger:          ledger,
		prompts:         prompts,
		widgetUI:        widgetUI,
		historyBlocks:   cfg.HistoryBlocks,
		maxToolRounds:   cfg.MaxToolRounds,
		maxWidgetDrains: cfg.MaxWidgetDrains,
	}
}

// Greet produces the opening programmatic message from the current data
// state and records it in the ledger.
func (o *Orchestrator) Greet(ctx context.Context) (string, error) {
	record, err := o.store.LoadRecord()
	if err != nil {
		return "", fmt.Errorf("failed to load record for greeting: %w", err)
	}
	greeting := o.prompts.BuildGreeting(record)
	o.ledger.AddProgrammaticBlock(greeting, "greeting")
	slog.Info("Orchestrator.Greet: greeting generated", "complete", record.IsComplete())
	return greeting, nil
}

// ProcessUserInput runs one full cycle: a model turn for the user's input,
// then a bounded drain of any widgets the turn flagged, each resolution
// feeding a follow-up model turn. done reports whether every field is now
// filled; once true the driver must stop calling.
func (o *Orchestrator) ProcessUserInput(ctx context.Context, userInput string) (reply string, done bool, err error) {
	turnReply, err := o.runModelTurn(ctx, userInput)
	if err != nil {
		return "", false, err
	}
	replies := []string{turnReply}

	for i := 0; i < o.maxWidgetDrains && o.coordinator.HasPendingWidget(); i++ {
		info := o.coordinator.TakePendingWidget()
		answer, answered := o.resolveWidget(ctx, info)
		if !answered {
			slog.Info("Orchestrator.ProcessUserInput: widget cancelled", "field", info.Field)
			break
		}

		args := map[string]string{"field": info.Field, "value": answer}
		result := o.tools.ExecuteUpdateData(ctx, models.UpdateDataParams{Field: info.Field, Value: answer})
		o.coordinator.OnFunctionCall(ToolUpdateData, args, result)
		o.coordinator.CompleteWidget(info.Field, answer, result)
		o.ledger.AddProgrammaticBlock(
			fmt.Sprintf("Widget selection for %s: %s (%s)", info.Field, answer, result),
			"widget_completion")

		followUp, err := o.runModelTurn(ctx, answer)
		if err != nil {
			return strings.Join(replies, "\n"), false, err
		}
		replies = append(replies, followUp)
	}
	if o.coordinator.HasPendingWidget() {
		slog.Warn("Orchestrator.ProcessUserInput: widget drain ceiling reached, discarding pending widget")
		o.coordinator.CancelWidget()
	}

	record, err := o.store.LoadRecord()
	if err != nil {
		return strings.Join(replies, "\n"), false, fmt.Errorf("failed to reload record: %w", err)
	}
	return strings.Join(replies, "\n"), record.IsComplete(), nil
}

// resolveWidget answers a pending widget from the test script when one is
// armed, otherwise through the UI collaborator. No UI means cancel.
func (o *Orchestrator) resolveWidget(ctx context.Context, info *models.WidgetInfo) (string, bool) {
	if answer, ok := o.coordinator.PendingTestResponse(); ok {
		slog.Debug("Orchestrator.resolveWidget: answered from test script", "field", info.Field)
		return answer, true
	}
	if o.widgetUI == nil {
		return "", false
	}
	answer, answered, err := o.widgetUI.PresentWidget(ctx, info)
	if err != nil {
		slog.Error("Orchestrator.resolveWidget: widget presentation failed", "error", err, "field", info.Field)
		return "", false
	}
	return answer, answered
}

// runModelTurn executes one model turn: reload the record, assemble the
// prompt, open a ledger block before the model call, run the bounded
// tool-call loop, and complete the block. A model invocation failure leaves
// the block open and returns a user-visible error line instead of failing
// the session.
func (o *Orchestrator) runModelTurn(ctx context.Context, userInput string) (string, error) {
	record, err := o.store.LoadRecord()
	if err != nil {
		return "", fmt.Errorf("failed to load record: %w", err)
	}

	hidden := BuildHiddenContext(o.coordinator.TakeWidgetCompletion())
	turnContext := BuildTurnContext(o.ledger.History(o.historyBlocks), record.Status(), hidden, userInput)
	fullPrompt := o.prompts.System + "\n\n" + turnContext

	blockID, err := o.ledger.StartAIBlock(userInput, fullPrompt, o.tools.FunctionNames(), record.Snapshot())
	if err != nil {
		// A model failure on an earlier turn leaves its block open. Close the
		// stale block with the error line so this turn can proceed.
		if stale := o.ledger.OpenBlockID(); stale != "" {
			slog.Warn("Orchestrator.runModelTurn: closing stale open block", "block_id", stale)
			if cerr := o.ledger.CompleteAIBlock(stale, "", modelErrorReply); cerr != nil {
				return "", fmt.Errorf("failed to close stale block %s: %w", stale, cerr)
			}
			blockID, err = o.ledger.StartAIBlock(userInput, fullPrompt, o.tools.FunctionNames(), record.Snapshot())
		}
		if err != nil {
			return "", fmt.Errorf("failed to open ledger block: %w", err)
		}
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(o.prompts.System),
		openai.UserMessage(turnContext),
	}
	tools := o.tools.Definitions()

	var finalMessage, rawResponse string
	var inputTokens, outputTokens int64
	for round := 0; round < o.maxToolRounds; round++ {
		resp, err := o.genaiClient.GenerateWithTools(ctx, messages, tools)
		if err != nil {
			slog.Error("Orchestrator.runModelTurn: model call failed, block left open",
				"error", err, "block_id", blockID, "round", round)
			return modelErrorReply, nil
		}
		if resp.Usage != nil {
			inputTokens += resp.Usage.InputTokens
			outputTokens += resp.Usage.OutputTokens
		}
		rawResponse = resp.Content
		finalMessage = resp.Content

		if len(resp.ToolCalls) == 0 {
			break
		}
		messages = append(messages, assistantMessageWithToolCalls(resp))
		for _, tc := range resp.ToolCalls {
			result, execErr := o.tools.Execute(ctx, tc.Function.Name, tc.Function.Arguments)
			if execErr != nil {
				slog.Error("Orchestrator.runModelTurn: tool execution failed",
					"error", execErr, "tool", tc.Function.Name, "block_id", blockID)
				result = fmt.Sprintf("Error: %s", execErr.Error())
			}
			args := argumentsToMap(tc.Function.Arguments)
			o.coordinator.OnFunctionCall(tc.Function.Name, args, result)
			if err := o.ledger.RecordAction(blockID, tc.Function.Name, args, result); err != nil {
				slog.Warn("Orchestrator.runModelTurn: failed to record action", "error", err, "block_id", blockID)
			}
			messages = append(messages, openai.ToolMessage(result, tc.ID))
		}
	}

	if inputTokens > 0 || outputTokens > 0 {
		if err := o.ledger.SetTokenUsage(blockID, inputTokens, outputTokens); err != nil {
			slog.Warn("Orchestrator.runModelTurn: failed to record token usage", "error", err, "block_id", blockID)
		}
	}
	if err := o.ledger.CompleteAIBlock(blockID, rawResponse, finalMessage); err != nil {
		slog.Warn("Orchestrator.runModelTurn: failed to complete block", "error", err, "block_id", blockID)
	}
	return finalMessage, nil
}

// PendingTestResponse exposes the coordinator's scripted answer for the
// interactive driver so test runs need no keyboard input.
func (o *Orchestrator) PendingTestResponse() (string, bool) {
	return o.coordinator.PendingTestResponse()
}

// Finalize snapshots the end state and dumps the session through the store.
func (o *Orchestrator) Finalize(ctx context.Context) error {
	record, err := o.store.LoadRecord()
	if err != nil {
		slog.Warn("Orchestrator.Finalize: failed to load record for end state", "error", err)
	} else {
		o.ledger.SetEndState(record.Snapshot())
	}
	sess := o.ledger.Session()
	if err := o.store.SaveSession(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	slog.Info("Orchestrator.Finalize: session saved", "session_id", sess.ID, "blocks", len(sess.Blocks))
	return nil
}

// Session returns a copy of the ledger's session for inspection.
func (o *Orchestrator) Session() models.Session {
	return o.ledger.Session()
}

// assistantMessageWithToolCalls converts a normalized tool-call response back
// into the assistant message the API must see before the tool results.
func assistantMessageWithToolCalls(resp *genai.ToolCallResponse) openai.ChatCompletionMessageParamUnion {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, tc := range resp.ToolCalls {
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			},
		})
	}
	assistant := openai.ChatCompletionAssistantMessageParam{
		Content: openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: param.NewOpt(resp.Content),
		},
		ToolCalls: toolCalls,
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// argumentsToMap flattens raw tool-call arguments into the string map the
// ledger stores. Non-string values are stringified.
func argumentsToMap(raw json.RawMessage) map[string]string {
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]string{"_raw": string(raw)}
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
