// Package session maintains the append-only conversation ledger.
//
// A Ledger owns exactly one models.Session for the lifetime of a run. Blocks
// are appended in order and never mutated once closed; the only permitted
// in-place change is completing the most recent open AI block (and appending
// late tool actions to it, since tool-call extraction can lag the text
// response). The ledger is a debugging artifact dumped at shutdown, never
// reloaded as a source of truth.
package session

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Ledger records the turn history of one conversation.
type Ledger struct {
	session models.Session
	now     func() time.Time
}

// NewLedger starts a fresh session ledger with the given data-state snapshot
// as the start state.
func NewLedger(startState map[string]interface{}) *Ledger {
	l := &Ledger{now: time.Now}
	l.session = models.Session{
		ID:         newBlockID(),
		CreatedAt:  l.now(),
		StartState: startState,
	}
	slog.Debug("Ledger.NewLedger: session started", "session_id", l.session.ID)
	return l
}

// newBlockID returns a short unique identifier. Eight hex characters is
// plenty within one session and keeps dumps readable.
func newBlockID() string {
	return uuid.NewString()[:8]
}

// SessionID returns the ledger's session identifier.
func (l *Ledger) SessionID() string {
	return l.session.ID
}

// AddProgrammaticBlock appends a system-generated message (greeting, notice).
func (l *Ledger) AddProgrammaticBlock(content, subtype string) string {
	block := models.Block{
		ID:        newBlockID(),
		Type:      models.BlockTypeProgrammatic,
		Timestamp: l.now(),
		Subtype:   subtype,
		Content:   content,
	}
	l.session.Blocks = append(l.session.Blocks, block)
	slog.Debug("Ledger.AddProgrammaticBlock: appended", "block_id", block.ID, "subtype", subtype)
	return block.ID
}

// StartAIBlock opens a new AI-interaction block, capturing the full prompt
// context before the model call so a crash mid-turn still leaves a trace.
// Returns an error if another AI block is still open.
func (l *Ledger) StartAIBlock(userInput, fullPrompt string, functionsAvailable []string, dataSnapshot map[string]interface{}) (string, error) {
	if open := l.openBlock(); open != nil {
		return "", fmt.Errorf("block %s is still open", open.ID)
	}
	now := l.now()
	block := models.Block{
		ID:        newBlockID(),
		Type:      models.BlockTypeAIInteraction,
		Timestamp: now,
		UserInput: userInput,
		Context: &models.BlockContext{
			FullPrompt:         fullPrompt,
			FunctionsAvailable: functionsAvailable,
			DataSnapshot:       dataSnapshot,
			TimestampStart:     now,
		},
		Response: &models.BlockResponse{},
	}
	l.session.Blocks = append(l.session.Blocks, block)
	slog.Debug("Ledger.StartAIBlock: opened", "block_id", block.ID)
	return block.ID, nil
}

// RecordAction appends one tool invocation to the named block. Appending to
// the most recent block is tolerated even after completion.
func (l *Ledger) RecordAction(blockID, function string, args map[string]string, result string) error {
	block := l.findBlock(blockID)
	if block == nil || block.Type != models.BlockTypeAIInteraction {
		return fmt.Errorf("no AI block with id %s", blockID)
	}
	if block.Response.TimestampEnd != nil && !l.isMostRecent(blockID) {
		return fmt.Errorf("block %s is closed", blockID)
	}
	block.Response.Actions = append(block.Response.Actions, models.Action{
		Function:  function,
		Arguments: args,
		Result:    result,
		Timestamp: l.now(),
	})
	slog.Debug("Ledger.RecordAction: recorded", "block_id", blockID, "function", function)
	return nil
}

// CompleteAIBlock closes the named block with the model's response. A block
// completes exactly once.
func (l *Ledger) CompleteAIBlock(blockID, rawResponse, finalMessage string) error {
	block := l.findBlock(blockID)
	if block == nil || block.Type != models.BlockTypeAIInteraction {
		return fmt.Errorf("no AI block with id %s", blockID)
	}
	if block.Response.TimestampEnd != nil {
		return fmt.Errorf("block %s already completed", blockID)
	}
	now := l.now()
	block.Response.RawResponse = rawResponse
	block.Response.FinalMessage = finalMessage
	block.Response.TimestampEnd = &now
	slog.Debug("Ledger.CompleteAIBlock: completed", "block_id", blockID)
	return nil
}

// SetTokenUsage attaches per-turn token counts to the named block.
func (l *Ledger) SetTokenUsage(blockID string, inputTokens, outputTokens int64) error {
	block := l.findBlock(blockID)
	if block == nil || block.Type != models.BlockTypeAIInteraction {
		return fmt.Errorf("no AI block with id %s", blockID)
	}
	block.Response.TokenUsage = &models.TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}
	return nil
}

// SetEndState records the final data-state snapshot before the dump.
func (l *Ledger) SetEndState(endState map[string]interface{}) {
	l.session.EndState = endState
}

// OpenBlockID returns the id of the currently open AI block, or "".
func (l *Ledger) OpenBlockID() string {
	if open := l.openBlock(); open != nil {
		return open.ID
	}
	return ""
}

// Session returns a copy of the current session for dumping.
func (l *Ledger) Session() models.Session {
	sess := l.session
	sess.Blocks = make([]models.Block, len(l.session.Blocks))
	copy(sess.Blocks, l.session.Blocks)
	return sess
}

// History renders the last maxBlocks blocks as a deterministic transcript
// for prompt assembly. Programmatic blocks render as assistant lines; AI
// blocks render the user input, each action as "function(args) -> result",
// and the final assistant message.
func (l *Ledger) History(maxBlocks int) string {
	blocks := l.session.Blocks
	if maxBlocks > 0 && len(blocks) > maxBlocks {
		blocks = blocks[len(blocks)-maxBlocks:]
	}

	var b strings.Builder
	for i := range blocks {
		block := &blocks[i]
		switch block.Type {
		case models.BlockTypeProgrammatic:
			fmt.Fprintf(&b, "Assistant: %s\n", block.Content)
		case models.BlockTypeAIInteraction:
			fmt.Fprintf(&b, "User: %s\n", block.UserInput)
			if block.Response != nil {
				if len(block.Response.Actions) > 0 {
					b.WriteString("Actions taken:\n")
					for _, a := range block.Response.Actions {
						fmt.Fprintf(&b, "  - %s(%s) -> %s\n", a.Function, renderArgs(a.Arguments), a.Result)
					}
				}
				if block.Response.FinalMessage != "" {
					fmt.Fprintf(&b, "Assistant: %s\n", block.Response.FinalMessage)
				}
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderArgs formats tool arguments with sorted keys so transcripts are
// stable across runs.
func renderArgs(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, args[k])
	}
	return strings.Join(parts, ", ")
}

func (l *Ledger) findBlock(blockID string) *models.Block {
	for i := range l.session.Blocks {
		if l.session.Blocks[i].ID == blockID {
			return &l.session.Blocks[i]
		}
	}
	return nil
}

func (l *Ledger) openBlock() *models.Block {
	for i := range l.session.Blocks {
		if l.session.Blocks[i].Open() {
			return &l.session.Blocks[i]
		}
	}
	return nil
}

func (l *Ledger) isMostRecent(blockID string) bool {
	if len(l.session.Blocks) == 0 {
		return false
	}
	return l.session.Blocks[len(l.session.Blocks)-1].ID == blockID
}
