package chat

import (
	"strings"
	"testing"

	"docuchat/internal/provider"
)

func TestBuildHistoryPairsOnly(t *testing.T) {
	turns := []Turn{
		{Index: 0, UserText: "q0", Answer: "a0", State: TurnAnswered},
		{Index: 1, UserText: "q1", State: TurnAwaitingAnswer},    // 未回答
		{Index: 2, State: TurnAnswered},                          // 纯上传轮次
		{Index: 3, UserText: "q3", Answer: "a3", State: TurnAnswered},
		{Index: 4, UserText: "current", State: TurnAwaitingAnswer},
	}

	history := buildHistory(turns, 4, 10)
	if len(history) != 4 {
		t.Fatalf("expected 2 complete pairs, got %d messages", len(history))
	}
	if history[0].Content != "q0" || history[1].Content != "a0" {
		t.Errorf("unexpected first pair: %v", history[:2])
	}
	if history[2].Content != "q3" || history[3].Content != "a3" {
		t.Errorf("unexpected second pair: %v", history[2:])
	}
	for i, m := range history {
		wantRole := "user"
		if i%2 == 1 {
			wantRole = "assistant"
		}
		if m.Role != wantRole {
			t.Errorf("message %d role %s, want %s", i, m.Role, wantRole)
		}
	}
}

func TestBuildHistoryMaxTurns(t *testing.T) {
	var turns []Turn
	for i := 0; i < 8; i++ {
		turns = append(turns, Turn{Index: i, UserText: "q", Answer: "a", State: TurnAnswered})
	}

	history := buildHistory(turns, -1, 3)
	if len(history) != 6 {
		t.Fatalf("expected 3 pairs, got %d messages", len(history))
	}
}

func TestFitWindowContextHalving(t *testing.T) {
	contextText := strings.Repeat("c", 900)
	history := []provider.Message{
		{Role: "user", Content: strings.Repeat("u", 100)},
		{Role: "assistant", Content: strings.Repeat("a", 100)},
	}

	gotContext, gotHistory := fitWindow(contextText, history, 1000)
	if n := len([]rune(gotContext)); n != 500 {
		t.Errorf("context should be capped at half the budget, got %d", n)
	}
	if len(gotHistory) != 2 {
		t.Errorf("history should fit in the remainder, got %d messages", len(gotHistory))
	}
}

func TestFitWindowDropsOldestPairsFirst(t *testing.T) {
	history := []provider.Message{
		{Role: "user", Content: strings.Repeat("1", 300)},
		{Role: "assistant", Content: strings.Repeat("2", 300)},
		{Role: "user", Content: strings.Repeat("3", 300)},
		{Role: "assistant", Content: strings.Repeat("4", 300)},
	}

	_, gotHistory := fitWindow("", history, 700)
	if len(gotHistory) != 2 {
		t.Fatalf("expected oldest pair dropped, got %d messages", len(gotHistory))
	}
	if !strings.HasPrefix(gotHistory[0].Content, "3") {
		t.Error("kept pair should be the most recent one")
	}
}

func TestFitWindowNoBudget(t *testing.T) {
	history := []provider.Message{{Role: "user", Content: "q"}}
	gotContext, gotHistory := fitWindow("ctx", history, 0)
	if gotContext != "ctx" || len(gotHistory) != 1 {
		t.Error("zero budget disables trimming")
	}
}
