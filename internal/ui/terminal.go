// Package ui implements the terminal front end: chat line printing, user
// input, and the interactive widget presenter.
package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Terminal reads user input and prints assistant output on a reader/writer
// pair, normally stdin/stdout.
type Terminal struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewTerminal creates a terminal UI over the given reader and writer.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewScanner(in), out: out}
}

// PrintAssistant prints an assistant message, one "Assistant:" prefix per
// line so multi-part replies stay readable.
func (t *Terminal) PrintAssistant(message string) {
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintf(t.out, "Assistant: %s\n", line)
	}
}

// PrintNotice prints a system line (completion notice, shutdown summary).
func (t *Terminal) PrintNotice(message string) {
	fmt.Fprintf(t.out, "%s\n", message)
}

// ReadUserInput prompts for and returns one line of user input. ok is false
// on EOF.
func (t *Terminal) ReadUserInput() (string, bool) {
	fmt.Fprint(t.out, "You: ")
	if !t.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(t.in.Text()), true
}

// PresentWidget shows a widget question as a numbered option list and reads
// the selection. Entering 0 or an empty line cancels; a cancel reports
// answered=false and must not mutate anything upstream.
func (t *Terminal) PresentWidget(ctx context.Context, info *models.WidgetInfo) (string, bool, error) {
	fmt.Fprintf(t.out, "\n%s\n", info.Question.QuestionText)
	for i, opt := range info.Question.Options {
		label := opt.Display
		if label == "" {
			label = opt.Value
		}
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, label)
	}
	fmt.Fprint(t.out, "Select an option (0 to skip): ")

	if !t.in.Scan() {
		return "", false, nil
	}
	choice := strings.TrimSpace(t.in.Text())
	if choice == "" || choice == "0" {
		slog.Debug("Terminal.PresentWidget: selection skipped", "field", info.Field)
		return "", false, nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil || n < 1 || n > len(info.Question.Options) {
		fmt.Fprintf(t.out, "Invalid selection %q, skipping.\n", choice)
		return "", false, nil
	}
	selected := info.Question.Options[n-1]
	slog.Debug("Terminal.PresentWidget: option selected", "field", info.Field, "value", selected.Value)
	return selected.Value, true, nil
}
