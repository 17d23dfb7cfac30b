package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/stage"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/validation"
)

func newTestTools(t *testing.T, record models.Record, widgets *models.WidgetConfig) (*IntakeTools, *stage.Coordinator) {
	t.Helper()
	st := store.NewInMemoryStore()
	st.SeedRecord(record)
	if widgets == nil {
		widgets = &models.WidgetConfig{}
	}
	coordinator := stage.NewCoordinator(stage.Config{})
	return NewIntakeTools(validation.New(st), st, coordinator, widgets), coordinator
}

func TestExecuteUpdateDataEchoesCanonicalFieldName(t *testing.T) {
	tools, coordinator := newTestTools(t, intakeRecord(nil), nil)

	result := tools.ExecuteUpdateData(context.Background(), models.UpdateDataParams{Field: "AGE", Value: "25"})
	if result != "Updated age to 25" {
		t.Errorf("result = %q, want the stored field casing", result)
	}

	// The success prefix drives the stage transition regardless of the
	// casing the model used.
	coordinator.OnFunctionCall(ToolUpdateData, map[string]string{"field": "AGE", "value": "25"}, result)
	if coordinator.CurrentStage() != stage.StageDataUpdated {
		t.Errorf("stage = %s, want %s", coordinator.CurrentStage(), stage.StageDataUpdated)
	}
}

func TestExecuteUpdateDataRendersRejections(t *testing.T) {
	tools, _ := newTestTools(t, intakeRecord(map[string]interface{}{"age": int64(30)}), nil)

	result := tools.ExecuteUpdateData(context.Background(), models.UpdateDataParams{Field: "age", Value: "30"})
	if !strings.HasPrefix(result, "Error: ") || !strings.Contains(result, "already has value '30'") {
		t.Errorf("result = %q, want a rendered duplicate rejection", result)
	}
}

func TestExecuteAskQuestionReturnsAskingMarker(t *testing.T) {
	tools, coordinator := newTestTools(t, intakeRecord(nil), genderWidgets())

	result := tools.ExecuteAskQuestion(context.Background(), models.AskQuestionParams{Field: "gender", Message: "How do you identify?"})
	if result != "[ASKING] gender: How do you identify?" {
		t.Errorf("result = %q", result)
	}
	if !coordinator.HasPendingWidget() {
		t.Error("a widget-enabled field must flag the coordinator")
	}

	// Non-widget fields return the same shape without flagging anything.
	coordinator.TakePendingWidget()
	result = tools.ExecuteAskQuestion(context.Background(), models.AskQuestionParams{Field: "age", Message: "How old are you?"})
	if result != "[ASKING] age: How old are you?" {
		t.Errorf("result = %q", result)
	}
	if coordinator.HasPendingWidget() {
		t.Error("a plain field must not flag a widget")
	}
}

func TestExecuteAskQuestionRejectsUnknownField(t *testing.T) {
	tools, _ := newTestTools(t, intakeRecord(nil), nil)

	result := tools.ExecuteAskQuestion(context.Background(), models.AskQuestionParams{Field: "mood", Message: "?"})
	if !strings.Contains(result, "Field 'mood' not found") {
		t.Errorf("result = %q, want an unknown-field error", result)
	}
}
