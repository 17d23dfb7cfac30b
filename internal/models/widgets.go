// Package models defines widget and tool parameter structures.
package models

import (
	"fmt"
	"strings"
	"time"
)

// WidgetOption is one selectable answer for a widget question. Display is
// the localized label shown to the user; Value is what gets stored.
type WidgetOption struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// WidgetQuestion is the structure handed to the UI collaborator.
type WidgetQuestion struct {
	QuestionText string         `json:"question_text"`
	Field        string         `json:"field"`
	Options      []WidgetOption `json:"options"`
	Type         string         `json:"type"`
}

// WidgetInfo is the transient record of a widget-enabled question flagged
// during a model turn. At most one is pending at a time; it is consumed
// exactly once after the turn completes.
type WidgetInfo struct {
	Field     string         `json:"field"`
	Message   string         `json:"message"`
	Question  WidgetQuestion `json:"question_structure"`
	CreatedAt time.Time      `json:"created_at"`
}

// WidgetCompletion carries a resolved widget answer into the next turn's
// hidden context so the model acknowledges instead of re-updating.
type WidgetCompletion struct {
	Field         string `json:"field"`
	SelectedValue string `json:"selected_value"`
	UpdateResult  string `json:"update_result"`
}

// WidgetFieldConfig configures widget behavior for one field. The config is
// hidden from the model; it only changes how ask_question resolves.
type WidgetFieldConfig struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"`
	Options []WidgetOption `json:"options"`
}

// WidgetConfig maps lowercase field names to their widget settings.
type WidgetConfig struct {
	WidgetFields map[string]WidgetFieldConfig `json:"widget_fields"`
}

// FieldConfig returns the widget settings for a field if widgets are enabled
// for it.
func (wc *WidgetConfig) FieldConfig(field string) (WidgetFieldConfig, bool) {
	if wc == nil || wc.WidgetFields == nil {
		return WidgetFieldConfig{}, false
	}
	cfg, ok := wc.WidgetFields[strings.ToLower(strings.TrimSpace(field))]
	if !ok || !cfg.Enabled {
		return WidgetFieldConfig{}, false
	}
	return cfg, true
}

// UpdateDataParams are the arguments of the update_data tool call.
type UpdateDataParams struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Validate ensures the target field is named. The value is deliberately not
// checked here: an empty value must reach the validation pipeline and come
// back as a business rejection the model can read, not an argument error.
func (p *UpdateDataParams) Validate() error {
	if strings.TrimSpace(p.Field) == "" {
		return fmt.Errorf("field is required")
	}
	return nil
}

// AskQuestionParams are the arguments of the ask_question tool call.
type AskQuestionParams struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate ensures both ask_question arguments are present.
func (p *AskQuestionParams) Validate() error {
	if strings.TrimSpace(p.Field) == "" {
		return fmt.Errorf("field is required")
	}
	if strings.TrimSpace(p.Message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
