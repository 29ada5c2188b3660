package chat

import (
	"context"
	"fmt"
	"sync"

	"docuchat/internal/domain/rag"
	"docuchat/internal/provider"
)

// ── 测试替身 ──────────────────────────────────────────────────

// memRepo 进程内 Repository 实现，语义与 PostgreSQL 实现一致
type memRepo struct {
	mu    sync.Mutex
	convs map[string]*Conversation
}

func newMemRepo() *memRepo {
	return &memRepo{convs: make(map[string]*Conversation)}
}

func (r *memRepo) CreateConversation(ctx context.Context, conv *Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *conv
	r.convs[conv.ID] = &copied
	return nil
}

func (r *memRepo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[id]
	if !ok {
		return nil, nil
	}
	copied := *conv
	copied.Turns = append([]Turn(nil), conv.Turns...)
	return &copied, nil
}

func (r *memRepo) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Conversation
	for _, conv := range r.convs {
		copied := *conv
		out = append(out, &copied)
	}
	return out, nil
}

func (r *memRepo) DeleteConversation(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.convs, id)
	return nil
}

func (r *memRepo) AppendTurn(ctx context.Context, conversationID string, turn *Turn) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.Status == ConversationDeleted {
		return 0, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	turn.Index = len(conv.Turns)
	conv.Turns = append(conv.Turns, *turn)
	return turn.Index, nil
}

func (r *memRepo) AttachAnswer(ctx context.Context, conversationID string, turnIndex int, answer string, citations []Citation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.Status == ConversationDeleted {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if turnIndex < 0 || turnIndex >= len(conv.Turns) {
		return fmt.Errorf("%w: turn %d", ErrNotFound, turnIndex)
	}
	if conv.Turns[turnIndex].State != TurnAwaitingAnswer {
		return fmt.Errorf("%w: turn %d already answered", ErrConflict, turnIndex)
	}
	conv.Turns[turnIndex].Answer = answer
	conv.Turns[turnIndex].Citations = citations
	conv.Turns[turnIndex].State = TurnAnswered
	return nil
}

func (r *memRepo) AppendUpload(ctx context.Context, conversationID string, upload Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok || conv.Status == ConversationDeleted {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if len(conv.Turns) == 0 {
		return ErrNoTurns
	}
	last := &conv.Turns[len(conv.Turns)-1]
	last.Uploads = append(last.Uploads, upload)
	return nil
}

// memIndex rag.VectorIndex 测试实现
type memIndex struct {
	mu        sync.Mutex
	model     map[string]string
	chunks    map[string][]rag.ChunkRecord
	hits      []rag.Hit // Nearest 固定返回
	deleteErr error     // DeleteIndex 注入失败
}

func newMemIndex() *memIndex {
	return &memIndex{
		model:  make(map[string]string),
		chunks: make(map[string][]rag.ChunkRecord),
	}
}

func (m *memIndex) CreateIndex(ctx context.Context, conversationID string, dims int, model string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model[conversationID] = model
	return nil
}

func (m *memIndex) DeleteIndex(ctx context.Context, conversationID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.model[conversationID]; !ok {
		return fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	delete(m.model, conversationID)
	delete(m.chunks, conversationID)
	return nil
}

func (m *memIndex) IndexModel(ctx context.Context, conversationID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	model, ok := m.model[conversationID]
	if !ok {
		return "", fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	return model, nil
}

func (m *memIndex) Upsert(ctx context.Context, conversationID string, records []rag.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[conversationID] = append(m.chunks[conversationID], records...)
	return nil
}

func (m *memIndex) Delete(ctx context.Context, conversationID string, chunkIDs []string) error {
	return nil
}

func (m *memIndex) Nearest(ctx context.Context, conversationID string, vector []float32, k int) ([]rag.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.hits) > k {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

func (m *memIndex) Count(ctx context.Context, conversationID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[conversationID]), nil
}

func (m *memIndex) ChunkIDs(ctx context.Context, conversationID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range m.chunks[conversationID] {
		ids = append(ids, c.ChunkID)
	}
	return ids, nil
}

type stubEmbedder struct{}

func (stubEmbedder) Model() string { return "test-embedding" }
func (stubEmbedder) Dims() int     { return 4 }
func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

type memDocStore struct {
	mu   sync.Mutex
	docs map[string][]*rag.Document
}

func newMemDocStore() *memDocStore {
	return &memDocStore{docs: make(map[string][]*rag.Document)}
}

func (s *memDocStore) CreateDocument(ctx context.Context, doc *rag.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ConversationID] = append(s.docs[doc.ConversationID], doc)
	return nil
}

func (s *memDocStore) UpdateDocument(ctx context.Context, doc *rag.Document) error { return nil }

func (s *memDocStore) GetDocument(ctx context.Context, id string) (*rag.Document, error) {
	return nil, nil
}

func (s *memDocStore) ListDocuments(ctx context.Context, conversationID string) ([]*rag.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[conversationID], nil
}

func (s *memDocStore) DeleteDocuments(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, conversationID)
	return nil
}

// stubGenerator 固定回答或固定失败
type stubGenerator struct {
	answer string
	err    error
	calls  int
}

func (g *stubGenerator) Generate(ctx context.Context, contextText string, history []provider.Message, prompt string) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func newTestStore(index *memIndex) (*Store, *memRepo) {
	repo := newMemRepo()
	return NewStore(repo, index, newMemDocStore(), stubEmbedder{}), repo
}
