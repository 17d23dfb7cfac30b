package session

import (
	"strings"
	"testing"
)

func TestStartAIBlockRejectsSecondOpenBlock(t *testing.T) {
	l := NewLedger(map[string]interface{}{"age": nil})

	id, err := l.StartAIBlock("hello", "prompt", []string{"update_data"}, nil)
	if err != nil {
		t.Fatalf("StartAIBlock failed: %v", err)
	}
	if _, err := l.StartAIBlock("again", "prompt", nil, nil); err == nil {
		t.Fatal("second StartAIBlock while one is open should fail")
	}
	if err := l.CompleteAIBlock(id, "raw", "final"); err != nil {
		t.Fatalf("CompleteAIBlock failed: %v", err)
	}
	if _, err := l.StartAIBlock("next", "prompt", nil, nil); err != nil {
		t.Fatalf("StartAIBlock after completion should succeed: %v", err)
	}
}

func TestCompleteAIBlockIsOneShot(t *testing.T) {
	l := NewLedger(nil)
	id, _ := l.StartAIBlock("hello", "prompt", nil, nil)

	if err := l.CompleteAIBlock(id, "raw", "final"); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}
	if err := l.CompleteAIBlock(id, "raw2", "final2"); err == nil {
		t.Fatal("second completion of the same block should fail")
	}
	if err := l.CompleteAIBlock("missing1", "raw", "final"); err == nil {
		t.Fatal("completing an unknown block should fail")
	}

	sess := l.Session()
	last := sess.Blocks[len(sess.Blocks)-1]
	if last.Response.FinalMessage != "final" {
		t.Errorf("final message = %q, the first completion must win", last.Response.FinalMessage)
	}
}

func TestRecordActionToleratesMostRecentCompletedBlock(t *testing.T) {
	l := NewLedger(nil)
	id, _ := l.StartAIBlock("hello", "prompt", nil, nil)
	l.CompleteAIBlock(id, "raw", "final")

	// Tool-call extraction can lag the text response.
	if err := l.RecordAction(id, "update_data", map[string]string{"field": "age", "value": "30"}, "Updated age to 30"); err != nil {
		t.Fatalf("RecordAction on the most recent completed block should succeed: %v", err)
	}

	id2, _ := l.StartAIBlock("next", "prompt", nil, nil)
	l.CompleteAIBlock(id2, "raw", "final")
	if err := l.RecordAction(id, "update_data", nil, "late"); err == nil {
		t.Fatal("RecordAction on an older completed block should fail")
	}
}

func TestHistoryRendersBlocksDeterministically(t *testing.T) {
	l := NewLedger(nil)
	l.AddProgrammaticBlock("Welcome!", "greeting")
	id, _ := l.StartAIBlock("I am 30", "prompt", nil, nil)
	l.RecordAction(id, "update_data", map[string]string{"value": "30", "field": "age"}, "Updated age to 30")
	l.CompleteAIBlock(id, "raw", "Got it, you are 30.")

	// Argument keys render sorted, so field comes before value.
	got := l.History(0)
	if !strings.Contains(got, "update_data(field=age, value=30)") {
		t.Errorf("history should render sorted args, got:\n%s", got)
	}
	if !strings.HasPrefix(got, "Assistant: Welcome!\nUser: I am 30") {
		t.Errorf("history order wrong:\n%s", got)
	}
	if !strings.HasSuffix(got, "Assistant: Got it, you are 30.") {
		t.Errorf("history should end with the final assistant line:\n%s", got)
	}
	for i := 0; i < 3; i++ {
		if l.History(0) != got {
			t.Fatal("History must be stable across calls")
		}
	}
}

func TestHistoryRespectsMaxBlocks(t *testing.T) {
	l := NewLedger(nil)
	l.AddProgrammaticBlock("first", "greeting")
	l.AddProgrammaticBlock("second", "notice")
	l.AddProgrammaticBlock("third", "notice")

	got := l.History(2)
	if strings.Contains(got, "first") {
		t.Errorf("History(2) should drop the oldest block, got:\n%s", got)
	}
	if !strings.Contains(got, "second") || !strings.Contains(got, "third") {
		t.Errorf("History(2) should keep the two newest blocks, got:\n%s", got)
	}
}

func TestSetTokenUsageAndEndState(t *testing.T) {
	l := NewLedger(map[string]interface{}{"age": nil})
	id, _ := l.StartAIBlock("hello", "prompt", nil, nil)
	l.CompleteAIBlock(id, "raw", "final")

	if err := l.SetTokenUsage(id, 120, 45); err != nil {
		t.Fatalf("SetTokenUsage failed: %v", err)
	}
	l.SetEndState(map[string]interface{}{"age": int64(30)})

	sess := l.Session()
	usage := sess.Blocks[0].Response.TokenUsage
	if usage == nil || usage.TotalTokens != 165 {
		t.Errorf("token usage = %+v, want total 165", usage)
	}
	if sess.EndState["age"] != int64(30) {
		t.Errorf("end state = %v, want age 30", sess.EndState)
	}
	if sess.StartState["age"] != nil {
		t.Errorf("start state must stay as captured at creation, got %v", sess.StartState)
	}
}

func TestBlockIDsAreUnique(t *testing.T) {
	l := NewLedger(nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := l.AddProgrammaticBlock("x", "notice")
		if seen[id] {
			t.Fatalf("duplicate block id %s", id)
		}
		seen[id] = true
	}
}
