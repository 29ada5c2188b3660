package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// Repository 会话持久化接口。不存在的会话返回 (nil, nil)，
// 由上层统一映射为 ErrNotFound。
type Repository interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	// AppendTurn 追加一轮并返回其序号
	AppendTurn(ctx context.Context, conversationID string, turn *Turn) (int, error)
	// AttachAnswer 条件更新：轮次必须处于 awaiting_answer 状态，
	// 已有回答返回 ErrConflict，序号越界或会话不存在返回 ErrNotFound
	AttachAnswer(ctx context.Context, conversationID string, turnIndex int, answer string, citations []Citation) error
	// AppendUpload 向最后一轮追加上传引用，没有轮次时返回 ErrNoTurns
	AppendUpload(ctx context.Context, conversationID string, upload Upload) error
}

// Store 会话存储服务。负责会话与其向量索引的一一对应生命周期：
// 创建时先建索引再落库，删除时先删索引再删记录。
type Store struct {
	repo       Repository
	index      rag.VectorIndex
	docs       rag.DocumentStore
	cache      rag.QueryCacheStore // 可选
	embedModel string
	embedDims  int
}

// NewStore 创建会话存储服务
func NewStore(repo Repository, index rag.VectorIndex, docs rag.DocumentStore, embedder rag.Embedder) *Store {
	return &Store{
		repo:       repo,
		index:      index,
		docs:       docs,
		embedModel: embedder.Model(),
		embedDims:  embedder.Dims(),
	}
}

// SetCache 设置检索缓存（删除会话时失效）
func (s *Store) SetCache(c rag.QueryCacheStore) {
	s.cache = c
}

// Create 创建会话及其配对的空向量索引。索引创建失败则不落库。
func (s *Store) Create(ctx context.Context, title string) (*Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New Chat"
	}

	now := time.Now()
	conv := &Conversation{
		ID:             uuid.New().String(),
		Title:          title,
		Status:         ConversationActive,
		EmbeddingModel: s.embedModel,
		EmbeddingDims:  s.embedDims,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.index.CreateIndex(ctx, conv.ID, s.embedDims, s.embedModel); err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}

	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		// 补偿：索引已建但记录没落库，删掉索引避免悬空
		if delErr := s.index.DeleteIndex(ctx, conv.ID); delErr != nil {
			applog.Error("[Chat/Store] ❌ Failed to clean up index after create failure",
				"conversation_id", conv.ID, "error", delErr)
		}
		return nil, fmt.Errorf("persist conversation: %w", err)
	}

	applog.Info("[Chat/Store] ✅ Conversation created",
		"conversation_id", conv.ID,
		"title", title,
		"embedding_model", s.embedModel,
	)
	return conv, nil
}

// Get 读取会话（含轮次）
func (s *Store) Get(ctx context.Context, id string) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.Status == ConversationDeleted {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	return conv, nil
}

// List 列出会话
func (s *Store) List(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListConversations(ctx, limit, offset)
}

// History 返回最近 n 轮（n <= 0 表示全部）
func (s *Store) History(ctx context.Context, conversationID string, n int) ([]Turn, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	turns := conv.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}

// AppendPrompt 追加一轮提问，返回轮次序号。回答稍后补写（两阶段）。
func (s *Store) AppendPrompt(ctx context.Context, conversationID, userText string) (int, error) {
	if strings.TrimSpace(userText) == "" {
		return 0, ErrEmptyPrompt
	}
	if _, err := s.Get(ctx, conversationID); err != nil {
		return 0, err
	}

	turn := &Turn{
		Timestamp: time.Now(),
		UserText:  userText,
		State:     TurnAwaitingAnswer,
	}
	idx, err := s.repo.AppendTurn(ctx, conversationID, turn)
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return idx, nil
}

// AttachAnswer 补写指定轮次的回答与引用。回答写入后不可变。
func (s *Store) AttachAnswer(ctx context.Context, conversationID string, turnIndex int, answer string, citations []Citation) error {
	if turnIndex < 0 {
		return fmt.Errorf("%w: negative turn index %d", ErrNotFound, turnIndex)
	}
	return s.repo.AttachAnswer(ctx, conversationID, turnIndex, answer, citations)
}

// AppendUpload 向当前轮次登记上传引用（实现 rag.UploadRecorder）。
// 会话还没有轮次时先创建一条承载轮次。
func (s *Store) AppendUpload(ctx context.Context, conversationID, documentID, filename string) error {
	upload := Upload{
		DocumentID: documentID,
		Filename:   filename,
		UploadedAt: time.Now(),
	}

	err := s.repo.AppendUpload(ctx, conversationID, upload)
	if errors.Is(err, ErrNoTurns) {
		carrier := &Turn{
			Timestamp: time.Now(),
			State:     TurnAnswered, // 纯上传轮次，不等待回答
		}
		if _, err := s.repo.AppendTurn(ctx, conversationID, carrier); err != nil {
			return fmt.Errorf("create upload carrier turn: %w", err)
		}
		err = s.repo.AppendUpload(ctx, conversationID, upload)
	}
	return err
}

// Delete 删除会话：先删向量索引，成功后再删记录与文档元数据。
// 索引删除失败时保留会话记录并报 ErrDependency，重试是安全的。
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}

	if err := s.index.DeleteIndex(ctx, conversationID); err != nil {
		// 索引已不存在说明上次删除已推进过，继续删记录即可
		if !errors.Is(err, rag.ErrIndexNotFound) {
			applog.Error("[Chat/Store] ❌ Index deletion failed, conversation retained",
				"conversation_id", conversationID, "error", err)
			return fmt.Errorf("%w: delete vector index: %v", ErrDependency, err)
		}
	}

	if err := s.docs.DeleteDocuments(ctx, conversationID); err != nil {
		return fmt.Errorf("%w: delete document records: %v", ErrDependency, err)
	}
	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation record: %w", err)
	}

	if s.cache != nil {
		s.cache.InvalidateConversation(ctx, conversationID)
	}

	applog.Info("[Chat/Store] 🗑️ Conversation deleted", "conversation_id", conversationID)
	return nil
}
