package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docuchat/internal/domain/rag"
)

func newTestOrchestrator(t *testing.T, index *memIndex, gen *stubGenerator, cfg OrchestratorConfig) (*Orchestrator, *Store) {
	t.Helper()
	store, _ := newTestStore(index)
	retriever := rag.NewRetriever(index, stubEmbedder{}, rag.DefaultConfig())
	return NewOrchestrator(store, retriever, gen, cfg), store
}

func TestAnswerEmptyPrompt(t *testing.T) {
	orch, store := newTestOrchestrator(t, newMemIndex(), &stubGenerator{answer: "x"}, OrchestratorConfig{})
	ctx := context.Background()

	conv, err := store.Create(ctx, "empty prompt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Answer(ctx, conv.ID, "  \n "); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if len(got.Turns) != 0 {
		t.Errorf("blank prompt must not create a turn, got %d", len(got.Turns))
	}
}

func TestAnswerConversationNotFound(t *testing.T) {
	orch, _ := newTestOrchestrator(t, newMemIndex(), &stubGenerator{answer: "x"}, OrchestratorConfig{})
	if _, err := orch.Answer(context.Background(), "missing", "question"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAnswerWithEmptyIndex(t *testing.T) {
	index := newMemIndex()
	gen := &stubGenerator{answer: "Based on our earlier discussion, the answer is 42."}
	orch, store := newTestOrchestrator(t, index, gen, OrchestratorConfig{})
	ctx := context.Background()

	conv, err := store.Create(ctx, "no documents")
	if err != nil {
		t.Fatal(err)
	}

	answer, err := orch.Answer(ctx, conv.ID, "what is the answer?")
	if err != nil {
		t.Fatalf("empty index must still produce an answer: %v", err)
	}
	if answer.Text == "" || len(answer.Citations) != 0 {
		t.Errorf("expected answer without citations, got %q with %d citations", answer.Text, len(answer.Citations))
	}

	got, _ := store.Get(ctx, conv.ID)
	turn := got.Turns[answer.TurnIndex]
	if turn.State != TurnAnswered || turn.Answer != gen.answer {
		t.Errorf("answer not persisted: %+v", turn)
	}
}

func TestAnswerGeneratorFailureLeavesTurnAwaiting(t *testing.T) {
	index := newMemIndex()
	gen := &stubGenerator{err: ErrGeneration}
	orch, store := newTestOrchestrator(t, index, gen, OrchestratorConfig{})
	ctx := context.Background()

	conv, err := store.Create(ctx, "flaky llm")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := orch.Answer(ctx, conv.ID, "doomed question"); !errors.Is(err, ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}

	// 提问已持久化且保持未回答，用户可见而不是被丢弃
	got, _ := store.Get(ctx, conv.ID)
	if len(got.Turns) != 1 {
		t.Fatalf("expected the prompt turn to survive, got %d turns", len(got.Turns))
	}
	turn := got.Turns[0]
	if turn.State != TurnAwaitingAnswer || turn.UserText != "doomed question" {
		t.Errorf("prompt turn corrupted: %+v", turn)
	}
}

func TestAnswerFiltersByMinSimilarity(t *testing.T) {
	index := newMemIndex()
	index.hits = []rag.Hit{
		{Record: rag.ChunkRecord{ChunkID: "a_0", Filename: "billing.md", Seq: 0,
			Text: "Billing invoices are generated monthly for every account."}, Score: 0.9},
		{Record: rag.ChunkRecord{ChunkID: "a_1", Filename: "billing.md", Seq: 1,
			Text: "Unrelated low relevance content."}, Score: 0.1},
	}
	gen := &stubGenerator{answer: "According to billing.md, invoices are generated monthly."}
	orch, store := newTestOrchestrator(t, index, gen, OrchestratorConfig{MinSimilarity: 0.25})
	ctx := context.Background()

	conv, err := store.Create(ctx, "billing")
	if err != nil {
		t.Fatal(err)
	}

	answer, err := orch.Answer(ctx, conv.ID, "how are invoices generated?")
	if err != nil {
		t.Fatal(err)
	}
	if len(answer.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(answer.Citations))
	}
	c := answer.Citations[0]
	if c.Filename != "billing.md" || !strings.Contains(c.Text, "invoices") {
		t.Errorf("unexpected citation: %+v", c)
	}
}

func TestAnswerUsesHistory(t *testing.T) {
	index := newMemIndex()
	gen := &stubGenerator{answer: "follow-up answer"}
	orch, store := newTestOrchestrator(t, index, gen, OrchestratorConfig{MaxHistoryTurns: 10})
	ctx := context.Background()

	conv, err := store.Create(ctx, "multi turn")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := orch.Answer(ctx, conv.ID, "first question"); err != nil {
		t.Fatal(err)
	}
	answer, err := orch.Answer(ctx, conv.ID, "and a follow-up?")
	if err != nil {
		t.Fatal(err)
	}
	if answer.TurnIndex != 1 {
		t.Errorf("expected second turn, got index %d", answer.TurnIndex)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times", gen.calls)
	}

	got, _ := store.Get(ctx, conv.ID)
	for i, turn := range got.Turns {
		if turn.State != TurnAnswered {
			t.Errorf("turn %d not answered: %+v", i, turn)
		}
	}
}
