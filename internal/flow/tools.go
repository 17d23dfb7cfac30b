// Package flow provides the intake tools exposed to the model.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/stage"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/validation"
)

// Tool function names as the model sees them.
const (
	ToolUpdateData  = "update_data"
	ToolAskQuestion = "ask_question"
)

// IntakeTools executes the two intake tool calls: update_data writes a field
// through the validation pipeline, ask_question logs a question and flags a
// widget when the field is widget-enabled. Widget enablement is configuration
// the model never sees; both paths return the same result shape.
type IntakeTools struct {
	validator   *validation.Validator
	store       store.Store
	coordinator *stage.Coordinator
	widgets     *models.WidgetConfig
}

// NewIntakeTools creates the tool executor.
func NewIntakeTools(v *validation.Validator, s store.Store, c *stage.Coordinator, widgets *models.WidgetConfig) *IntakeTools {
	slog.Debug("IntakeTools.NewIntakeTools: creating tools",
		"hasValidator", v != nil, "hasCoordinator", c != nil, "hasWidgetConfig", widgets != nil)
	return &IntakeTools{validator: v, store: s, coordinator: c, widgets: widgets}
}

// Definitions returns the OpenAI tool definitions in registration order.
func (t *IntakeTools) Definitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		t.GetUpdateDataToolDefinition(),
		t.GetAskQuestionToolDefinition(),
	}
}

// FunctionNames returns the tool names for ledger block context.
func (t *IntakeTools) FunctionNames() []string {
	return []string{ToolUpdateData, ToolAskQuestion}
}

// GetUpdateDataToolDefinition returns the OpenAI tool definition for updating
// a profile field.
func (t *IntakeTools) GetUpdateDataToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        ToolUpdateData,
			Description: openai.String("Record a value the user has provided for one of their profile fields. Call this as soon as the user states a value, before asking the next question."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"field": map[string]interface{}{
						"type":        "string",
						"description": "The profile field to update (e.g. 'age', 'height', 'weight')",
					},
					"value": map[string]interface{}{
						"type":        "string",
						"description": "The value the user provided, as stated",
					},
				},
				"required": []string{"field", "value"},
			},
		},
	}
}

// GetAskQuestionToolDefinition returns the OpenAI tool definition for asking
// the user about a missing field.
func (t *IntakeTools) GetAskQuestionToolDefinition() openai.ChatCompletionToolParam {
	return openai.ChatCompletionToolParam{
		Type: "function",
		Function: shared.FunctionDefinitionParam{
			Name:        ToolAskQuestion,
			Description: openai.String("Ask the user a question to collect one missing profile field. Ask about exactly one field at a time."),
			Parameters: shared.FunctionParameters{
				"type": "object",
				"properties": map[string]interface{}{
					"field": map[string]interface{}{
						"type":        "string",
						"description": "The profile field the question is about",
					},
					"message": map[string]interface{}{
						"type":        "string",
						"description": "The question text to show the user",
					},
				},
				"required": []string{"field", "message"},
			},
		},
	}
}

// Execute dispatches one normalized tool call and returns the result text.
// Business rejections and store failures both render into the result so the
// model can self-correct; an error return means the arguments were unusable.
func (t *IntakeTools) Execute(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	switch name {
	case ToolUpdateData:
		var params models.UpdateDataParams
		if err := json.Unmarshal(arguments, &params); err != nil {
			return "", fmt.Errorf("failed to decode update_data arguments: %w", err)
		}
		if err := params.Validate(); err != nil {
			return "", fmt.Errorf("invalid update_data arguments: %w", err)
		}
		return t.ExecuteUpdateData(ctx, params), nil
	case ToolAskQuestion:
		var params models.AskQuestionParams
		if err := json.Unmarshal(arguments, &params); err != nil {
			return "", fmt.Errorf("failed to decode ask_question arguments: %w", err)
		}
		if err := params.Validate(); err != nil {
			return "", fmt.Errorf("invalid ask_question arguments: %w", err)
		}
		return t.ExecuteAskQuestion(ctx, params), nil
	default:
		return "", fmt.Errorf("unknown tool %s", name)
	}
}

// ExecuteUpdateData runs the update through validation and renders the
// outcome as the tool result. The result echoes the canonical field name, not
// the casing the model used.
func (t *IntakeTools) ExecuteUpdateData(ctx context.Context, params models.UpdateDataParams) string {
	value, fieldName, err := t.validator.Update(params.Field, params.Value)
	if err != nil {
		slog.Info("IntakeTools.ExecuteUpdateData: update rejected",
			"field", params.Field, "value", params.Value, "error", err)
		return fmt.Sprintf("Error: %s", err.Error())
	}
	result := fmt.Sprintf("Updated %s to %s", fieldName, models.StringifyValue(value))
	slog.Info("IntakeTools.ExecuteUpdateData: update applied", "field", fieldName, "result", result)
	return result
}

// ExecuteAskQuestion logs a question for the user. Widget-enabled fields
// additionally flag the stage coordinator so the orchestrator presents the
// widget after the model turn; the result returned to the model is identical
// either way.
func (t *IntakeTools) ExecuteAskQuestion(ctx context.Context, params models.AskQuestionParams) string {
	record, err := t.store.LoadRecord()
	if err != nil {
		slog.Error("IntakeTools.ExecuteAskQuestion: failed to load record", "error", err)
		return fmt.Sprintf("Error: %s", err.Error())
	}
	field := record.Get(params.Field)
	if field == nil {
		slog.Info("IntakeTools.ExecuteAskQuestion: unknown field", "field", params.Field)
		return fmt.Sprintf("Error: Field '%s' not found. Available fields: %s",
			params.Field, strings.Join(record.Names(), ", "))
	}

	if cfg, ok := t.widgets.FieldConfig(field.Name); ok {
		t.coordinator.FlagWidget(models.WidgetInfo{
			Field:   field.Name,
			Message: params.Message,
			Question: models.WidgetQuestion{
				QuestionText: params.Message,
				Field:        field.Name,
				Options:      cfg.Options,
				Type:         cfg.Type,
			},
		})
		slog.Debug("IntakeTools.ExecuteAskQuestion: widget flagged", "field", field.Name, "type", cfg.Type)
	}
	return fmt.Sprintf("[ASKING] %s: %s", field.Name, params.Message)
}
