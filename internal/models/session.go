// Package models defines session and block structures for conversation tracking.
package models

import "time"

// BlockType distinguishes the two kinds of conversation blocks.
type BlockType string

const (
	// BlockTypeProgrammatic marks a system-generated message (greeting, notice).
	BlockTypeProgrammatic BlockType = "programmatic"
	// BlockTypeAIInteraction marks a full user-input/model-response exchange.
	BlockTypeAIInteraction BlockType = "ai_interaction"
)

// Action records one tool invocation and its result inside an AI block.
// Ordering within a block matches the invocation order returned by the model.
type Action struct {
	Function  string            `json:"function"`
	Arguments map[string]string `json:"arguments"`
	Result    string            `json:"result"`
	Timestamp time.Time         `json:"timestamp"`
}

// BlockContext captures the full-fidelity prompt context at turn start,
// recorded before the model call so an in-flight crash still leaves a trace.
type BlockContext struct {
	FullPrompt         string                 `json:"full_prompt"`
	FunctionsAvailable []string               `json:"functions_available"`
	DataSnapshot       map[string]interface{} `json:"data_state_snapshot"`
	TimestampStart     time.Time              `json:"timestamp_start"`
}

// TokenUsage holds optional per-turn token counts reported by the model.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// BlockResponse holds the model's side of an AI block. TimestampEnd is nil
// while the block is open.
type BlockResponse struct {
	RawResponse  string                 `json:"raw_response"`
	Actions      []Action               `json:"actions"`
	FinalMessage string                 `json:"final_message"`
	TimestampEnd *time.Time             `json:"timestamp_end"`
	TokenUsage   *TokenUsage            `json:"token_usage,omitempty"`
	DataChanges  map[string]interface{} `json:"data_changes,omitempty"`
}

// Block is one atomic unit of conversation history: either a programmatic
// message or an AI interaction with nested actions.
type Block struct {
	ID        string    `json:"id"`
	Type      BlockType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Programmatic fields
	Subtype string `json:"subtype,omitempty"`
	Content string `json:"content,omitempty"`

	// AI-interaction fields
	UserInput string         `json:"user_input,omitempty"`
	Context   *BlockContext  `json:"context,omitempty"`
	Response  *BlockResponse `json:"response,omitempty"`
}

// Open reports whether an AI block has not been completed yet.
func (b *Block) Open() bool {
	return b.Type == BlockTypeAIInteraction && b.Response != nil && b.Response.TimestampEnd == nil
}

// Session is the serialized shape of one conversation run: an append-only
// sequence of blocks bracketed by field-store snapshots. Dumped to storage
// at shutdown for offline inspection, never reloaded as a source of truth.
type Session struct {
	ID         string                 `json:"id"`
	CreatedAt  time.Time              `json:"created_at"`
	Blocks     []Block                `json:"blocks"`
	StartState map[string]interface{} `json:"session_start_state"`
	EndState   map[string]interface{} `json:"session_end_state"`
}
