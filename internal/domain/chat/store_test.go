package chat

import (
	"context"
	"errors"
	"testing"
)

func TestCreateConversation(t *testing.T) {
	index := newMemIndex()
	store, _ := newTestStore(index)
	ctx := context.Background()

	conv, err := store.Create(ctx, "  ")
	if err != nil {
		t.Fatal(err)
	}
	if conv.Title != "New Chat" {
		t.Errorf("expected default title, got %q", conv.Title)
	}
	if conv.EmbeddingModel != "test-embedding" || conv.EmbeddingDims != 4 {
		t.Errorf("embedding identity not recorded: %s/%d", conv.EmbeddingModel, conv.EmbeddingDims)
	}

	// 索引与会话一一对应
	if _, err := index.IndexModel(ctx, conv.ID); err != nil {
		t.Errorf("vector index missing after create: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	store, _ := newTestStore(newMemIndex())
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendPromptAndAttachAnswer(t *testing.T) {
	store, _ := newTestStore(newMemIndex())
	ctx := context.Background()

	conv, err := store.Create(ctx, "qa")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.AppendPrompt(ctx, conv.ID, " "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("blank prompt: expected ErrEmptyPrompt, got %v", err)
	}

	idx, err := store.AppendPrompt(ctx, conv.ID, "first question")
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0 {
		t.Errorf("first turn index %d", idx)
	}

	if err := store.AttachAnswer(ctx, conv.ID, idx, "the answer", nil); err != nil {
		t.Fatal(err)
	}

	// 回答不可变：二次写入报冲突
	if err := store.AttachAnswer(ctx, conv.ID, idx, "another answer", nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on double attach, got %v", err)
	}

	if err := store.AttachAnswer(ctx, conv.ID, 99, "x", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("out of range index: expected ErrNotFound, got %v", err)
	}
	if err := store.AttachAnswer(ctx, conv.ID, -1, "x", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("negative index: expected ErrNotFound, got %v", err)
	}

	got, err := store.Get(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Turns[0].Answer != "the answer" || got.Turns[0].State != TurnAnswered {
		t.Errorf("first answer overwritten: %+v", got.Turns[0])
	}
}

func TestAppendUploadCreatesCarrierTurn(t *testing.T) {
	store, _ := newTestStore(newMemIndex())
	ctx := context.Background()

	conv, err := store.Create(ctx, "uploads")
	if err != nil {
		t.Fatal(err)
	}

	// 还没有任何轮次，应自动创建承载轮次
	if err := store.AppendUpload(ctx, conv.ID, "doc-1", "report.pdf"); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(ctx, conv.ID)
	if len(got.Turns) != 1 {
		t.Fatalf("expected carrier turn, got %d turns", len(got.Turns))
	}
	carrier := got.Turns[0]
	if carrier.State != TurnAnswered || carrier.UserText != "" {
		t.Errorf("carrier turn should be a closed non-question turn: %+v", carrier)
	}
	if len(carrier.Uploads) != 1 || carrier.Uploads[0].DocumentID != "doc-1" {
		t.Errorf("upload reference missing: %+v", carrier.Uploads)
	}

	// 有轮次后追加到最后一轮
	if _, err := store.AppendPrompt(ctx, conv.ID, "question"); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendUpload(ctx, conv.ID, "doc-2", "notes.md"); err != nil {
		t.Fatal(err)
	}
	got, _ = store.Get(ctx, conv.ID)
	last := got.Turns[len(got.Turns)-1]
	if len(last.Uploads) != 1 || last.Uploads[0].DocumentID != "doc-2" {
		t.Errorf("upload should land on latest turn: %+v", last.Uploads)
	}
}

func TestDeleteConversation(t *testing.T) {
	index := newMemIndex()
	store, _ := newTestStore(index)
	ctx := context.Background()

	conv, err := store.Create(ctx, "to delete")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.Delete(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("conversation still readable after delete: %v", err)
	}
	if _, err := index.IndexModel(ctx, conv.ID); err == nil {
		t.Error("vector index survived conversation delete")
	}

	if err := store.Delete(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleting twice: expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRetryAfterIndexFailure(t *testing.T) {
	index := newMemIndex()
	store, repo := newTestStore(index)
	ctx := context.Background()

	conv, err := store.Create(ctx, "flaky delete")
	if err != nil {
		t.Fatal(err)
	}

	// 第一次删除：索引删除失败，会话必须保留
	index.deleteErr = errors.New("vector backend unavailable")
	if err := store.Delete(ctx, conv.ID); !errors.Is(err, ErrDependency) {
		t.Fatalf("expected ErrDependency, got %v", err)
	}
	if got, _ := repo.GetConversation(ctx, conv.ID); got == nil {
		t.Fatal("conversation record lost despite failed index delete")
	}

	// 故障恢复后重试成功
	index.deleteErr = nil
	if err := store.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}

	// 索引已不存在时的再次重试也应幂等完成
	conv2, _ := store.Create(ctx, "half deleted")
	if err := index.DeleteIndex(ctx, conv2.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, conv2.ID); err != nil {
		t.Fatalf("delete with already-missing index must succeed: %v", err)
	}
}

func TestHistoryLimit(t *testing.T) {
	store, _ := newTestStore(newMemIndex())
	ctx := context.Background()

	conv, err := store.Create(ctx, "history")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		idx, err := store.AppendPrompt(ctx, conv.ID, "q")
		if err != nil {
			t.Fatal(err)
		}
		if err := store.AttachAnswer(ctx, conv.ID, idx, "a", nil); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.History(ctx, conv.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Index != 3 || turns[1].Index != 4 {
		t.Errorf("expected latest turns, got %d and %d", turns[0].Index, turns[1].Index)
	}
}
