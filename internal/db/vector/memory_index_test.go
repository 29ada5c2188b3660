package vector

import (
	"context"
	"errors"
	"math"
	"testing"

	"docuchat/internal/domain/rag"
)

func TestMemoryIndexLifecycle(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()

	if err := m.CreateIndex(ctx, "conv-1", 3, "model-a"); err != nil {
		t.Fatal(err)
	}
	// 同模型重复创建幂等
	if err := m.CreateIndex(ctx, "conv-1", 3, "model-a"); err != nil {
		t.Fatalf("idempotent create failed: %v", err)
	}
	// 不同模型冲突
	if err := m.CreateIndex(ctx, "conv-1", 3, "model-b"); err == nil {
		t.Fatal("expected model conflict error")
	}

	model, err := m.IndexModel(ctx, "conv-1")
	if err != nil || model != "model-a" {
		t.Fatalf("IndexModel = %q, %v", model, err)
	}

	if err := m.DeleteIndex(ctx, "conv-1"); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteIndex(ctx, "conv-1"); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Fatalf("double delete: expected ErrIndexNotFound, got %v", err)
	}
	if _, err := m.Count(ctx, "conv-1"); !errors.Is(err, rag.ErrIndexNotFound) {
		t.Fatalf("count on deleted index: expected ErrIndexNotFound, got %v", err)
	}
}

func TestMemoryIndexNearest(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()
	if err := m.CreateIndex(ctx, "conv-1", 2, "model-a"); err != nil {
		t.Fatal(err)
	}

	records := []rag.ChunkRecord{
		{ChunkID: "d_0", Seq: 0, Vector: []float32{1, 0}},
		{ChunkID: "d_1", Seq: 1, Vector: []float32{0.9, 0.1}},
		{ChunkID: "d_2", Seq: 2, Vector: []float32{0, 1}},
	}
	if err := m.Upsert(ctx, "conv-1", records); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Nearest(ctx, "conv-1", []float32{1, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ChunkID != "d_0" || hits[1].Record.ChunkID != "d_1" {
		t.Errorf("wrong neighbor order: %s, %s", hits[0].Record.ChunkID, hits[1].Record.ChunkID)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-9 {
		t.Errorf("identical vectors should score 1.0, got %f", hits[0].Score)
	}
}

func TestMemoryIndexNearestTieBreak(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()
	if err := m.CreateIndex(ctx, "conv-1", 2, "model-a"); err != nil {
		t.Fatal(err)
	}

	// 同向向量同分，应按序号升序
	records := []rag.ChunkRecord{
		{ChunkID: "d_2", Seq: 2, Vector: []float32{1, 0}},
		{ChunkID: "d_0", Seq: 0, Vector: []float32{1, 0}},
		{ChunkID: "d_1", Seq: 1, Vector: []float32{2, 0}}, // 余弦对幅值不敏感
	}
	if err := m.Upsert(ctx, "conv-1", records); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Nearest(ctx, "conv-1", []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"d_0", "d_1", "d_2"} {
		if hits[i].Record.ChunkID != want {
			t.Errorf("position %d: got %s, want %s", i, hits[i].Record.ChunkID, want)
		}
	}
}

func TestMemoryIndexEmptyNearest(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()
	if err := m.CreateIndex(ctx, "conv-1", 2, "model-a"); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Nearest(ctx, "conv-1", []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits on empty index, got %d", len(hits))
	}
}

func TestMemoryIndexConversationIsolation(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()
	for _, conv := range []string{"conv-a", "conv-b"} {
		if err := m.CreateIndex(ctx, conv, 2, "model-a"); err != nil {
			t.Fatal(err)
		}
	}

	if err := m.Upsert(ctx, "conv-a", []rag.ChunkRecord{{ChunkID: "a_0", Vector: []float32{1, 0}}}); err != nil {
		t.Fatal(err)
	}

	count, err := m.Count(ctx, "conv-b")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("records leaked across conversations: %d", count)
	}

	hits, err := m.Nearest(ctx, "conv-b", []float32{1, 0}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("expected isolated empty result, got %d hits, err %v", len(hits), err)
	}
}

func TestMemoryIndexDeleteChunks(t *testing.T) {
	m := NewMemoryIndex()
	ctx := context.Background()
	if err := m.CreateIndex(ctx, "conv-1", 2, "model-a"); err != nil {
		t.Fatal(err)
	}
	if err := m.Upsert(ctx, "conv-1", []rag.ChunkRecord{
		{ChunkID: "d_0", Vector: []float32{1, 0}},
		{ChunkID: "d_1", Vector: []float32{0, 1}},
	}); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, "conv-1", []string{"d_0"}); err != nil {
		t.Fatal(err)
	}
	ids, err := m.ChunkIDs(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "d_1" {
		t.Errorf("unexpected remaining chunks: %v", ids)
	}
}
