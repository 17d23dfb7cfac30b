// Package flow provides prompt assembly for the intake conversation.
package flow

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Prompt file names expected under the prompts directory.
const (
	SystemPromptFile = "system_prompt.txt"
	GreetingFile     = "greeting.txt"
)

// defaultSystemPrompt keeps the agent functional when no prompt file is
// installed. The production wording lives in prompts/system_prompt.txt.
const defaultSystemPrompt = `You are a friendly assistant collecting a user's profile information.
Work through the missing fields one at a time. When the user provides a value,
record it with the update_data tool before anything else. Ask about missing
fields with the ask_question tool, one field per question. When every field is
filled, thank the user and end the conversation. Never ask about a field that
already has a value.`

// defaultGreeting is used when no greeting template is installed. The %s is
// replaced with the first missing field name.
const defaultGreeting = "Hi! I'd like to get to know you a little. To start: could you tell me your %s?"

// Prompts holds the loaded prompt texts for one run.
type Prompts struct {
	System   string
	Greeting string
}

// LoadPrompts reads the prompt files from dir. Missing files fall back to
// built-in defaults with a warning; the agent never refuses to start over
// prompt wording.
func LoadPrompts(dir string) Prompts {
	return Prompts{
		System:   loadPromptFile(filepath.Join(dir, SystemPromptFile), defaultSystemPrompt),
		Greeting: loadPromptFile(filepath.Join(dir, GreetingFile), defaultGreeting),
	}
}

func loadPromptFile(path, fallback string) string {
	if path == "" {
		return fallback
	}
	content, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("flow.loadPromptFile: using built-in default", "file", path, "error", err)
		return fallback
	}
	text := strings.TrimSpace(string(content))
	if text == "" {
		slog.Warn("flow.loadPromptFile: prompt file empty, using built-in default", "file", path)
		return fallback
	}
	slog.Info("flow.loadPromptFile: prompt loaded", "file", path, "length", len(text))
	return text
}

// BuildGreeting renders the opening programmatic message from the current
// data state. A complete record short-circuits to a closing line.
func (p Prompts) BuildGreeting(record models.Record) string {
	missing := record.Missing()
	if len(missing) == 0 {
		return "Welcome back! Your profile is already complete."
	}
	if strings.Contains(p.Greeting, "%s") {
		return fmt.Sprintf(p.Greeting, missing[0])
	}
	return p.Greeting
}

// BuildTurnContext assembles the per-turn user-message body: recent history,
// the data status report, any hidden widget-completion context, and the new
// user input. The system prompt travels separately as the system message.
func BuildTurnContext(history, status, hiddenContext, userInput string) string {
	var b strings.Builder
	if history != "" {
		b.WriteString("=== CONVERSATION HISTORY ===\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString(status)
	b.WriteString("\n")
	if hiddenContext != "" {
		b.WriteString("\n")
		b.WriteString(hiddenContext)
		b.WriteString("\n")
	}
	b.WriteString("\nUser: ")
	b.WriteString(userInput)
	return b.String()
}

// BuildHiddenContext renders the do-not-re-update instruction injected into
// the turn after a widget resolved.
func BuildHiddenContext(comp *models.WidgetCompletion) string {
	if comp == nil {
		return ""
	}
	return fmt.Sprintf(
		"[SYSTEM NOTE] The user answered the %s question through a selection widget. "+
			"Their selection '%s' was already recorded (%s). Do not call update_data for %s again; "+
			"acknowledge the answer and move on to the next missing field.",
		comp.Field, comp.SelectedValue, comp.UpdateResult, comp.Field)
}
