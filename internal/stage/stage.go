// Package stage coordinates widget questions and conversation staging.
//
// The coordinator is a two-state machine over "is a widget pending": idle
// until a widget-enabled question is flagged during a model turn, back to
// idle once the orchestrator takes the pending widget and resolves it. It
// also keeps the question history and the current stage tag, and drives the
// scripted answers used in test mode.
package stage

import (
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Stage tags describing where the conversation is.
const (
	StageInitial     = "initial"
	StageDataUpdated = "data_updated"
)

// QuestionEvent is one logged ask_question invocation.
type QuestionEvent struct {
	Field     string    `json:"field"`
	Message   string    `json:"message"`
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// Config configures the coordinator explicitly. Test mode substitutes canned
// per-field answers for interactive input; with TestMode off the production
// paths are untouched.
type Config struct {
	TestMode      bool
	TestResponses map[string]string
}

// Coordinator tracks the pending widget, the resolved widget completion, the
// question history and the stage tag for one conversation.
type Coordinator struct {
	cfg Config

	currentStage      string
	lastQuestionField string
	questionHistory   []QuestionEvent

	pendingWidget    *models.WidgetInfo
	widgetCompletion *models.WidgetCompletion

	testAnswerArmed bool
	now             func() time.Time
}

// NewCoordinator creates a coordinator in the initial stage.
func NewCoordinator(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg, currentStage: StageInitial, now: time.Now}
}

// CurrentStage returns the stage tag.
func (c *Coordinator) CurrentStage() string {
	return c.currentStage
}

// LastQuestionField returns the field of the most recent ask_question call.
func (c *Coordinator) LastQuestionField() string {
	return c.lastQuestionField
}

// QuestionHistory returns a copy of the logged questions.
func (c *Coordinator) QuestionHistory() []QuestionEvent {
	out := make([]QuestionEvent, len(c.questionHistory))
	copy(out, c.questionHistory)
	return out
}

// FlagWidget records a widget-enabled question to present after the current
// model turn. At most one widget is pending; a second flag in the same turn
// replaces the first.
func (c *Coordinator) FlagWidget(info models.WidgetInfo) {
	if c.pendingWidget != nil {
		slog.Warn("Coordinator.FlagWidget: replacing pending widget",
			"previous_field", c.pendingWidget.Field, "field", info.Field)
	}
	if info.CreatedAt.IsZero() {
		info.CreatedAt = c.now()
	}
	c.pendingWidget = &info
	slog.Debug("Coordinator.FlagWidget: widget pending", "field", info.Field)
}

// HasPendingWidget reports whether a widget is waiting to be presented.
func (c *Coordinator) HasPendingWidget() bool {
	return c.pendingWidget != nil
}

// TakePendingWidget returns the pending widget and clears it, so each widget
// is presented exactly once. Returns nil when none is pending.
func (c *Coordinator) TakePendingWidget() *models.WidgetInfo {
	info := c.pendingWidget
	c.pendingWidget = nil
	return info
}

// CompleteWidget records a resolved widget answer for hidden-context handoff
// into the next model turn.
func (c *Coordinator) CompleteWidget(field, selectedValue, updateResult string) {
	c.widgetCompletion = &models.WidgetCompletion{
		Field:         field,
		SelectedValue: selectedValue,
		UpdateResult:  updateResult,
	}
	slog.Debug("Coordinator.CompleteWidget: completion stored", "field", field)
}

// TakeWidgetCompletion returns the stored completion and clears it; the
// hidden instruction is injected into exactly one turn.
func (c *Coordinator) TakeWidgetCompletion() *models.WidgetCompletion {
	comp := c.widgetCompletion
	c.widgetCompletion = nil
	return comp
}

// CancelWidget discards the pending widget without any data mutation.
func (c *Coordinator) CancelWidget() {
	if c.pendingWidget != nil {
		slog.Debug("Coordinator.CancelWidget: widget discarded", "field", c.pendingWidget.Field)
	}
	c.pendingWidget = nil
}

// OnFunctionCall logs a tool invocation into the coordinator's state.
// ask_question updates the question history and arms the next test answer;
// a successful update_data moves the conversation past the initial stage.
func (c *Coordinator) OnFunctionCall(function string, args map[string]string, result string) {
	switch function {
	case "ask_question":
		field := args["field"]
		c.lastQuestionField = field
		c.questionHistory = append(c.questionHistory, QuestionEvent{
			Field:     field,
			Message:   args["message"],
			Stage:     c.currentStage,
			Timestamp: c.now(),
		})
		c.testAnswerArmed = true
		slog.Debug("Coordinator.OnFunctionCall: question logged", "field", field, "stage", c.currentStage)
	case "update_data":
		if strings.HasPrefix(result, "Updated ") {
			c.currentStage = StageDataUpdated
		}
	}
}

// PendingTestResponse returns the canned answer for the last asked field, if
// test mode is on and one is scripted. The answer is armed by ask_question
// and cleared on read so each question consumes at most one scripted answer.
func (c *Coordinator) PendingTestResponse() (string, bool) {
	if !c.cfg.TestMode || !c.testAnswerArmed || c.lastQuestionField == "" {
		return "", false
	}
	answer, ok := c.cfg.TestResponses[strings.ToLower(c.lastQuestionField)]
	if !ok {
		return "", false
	}
	c.testAnswerArmed = false
	slog.Debug("Coordinator.PendingTestResponse: scripted answer served", "field", c.lastQuestionField)
	return answer, true
}

// TestMode reports whether scripted answers are active.
func (c *Coordinator) TestMode() bool {
	return c.cfg.TestMode
}
