package chat

import "time"

// ConversationStatus 会话状态
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
	ConversationDeleted  ConversationStatus = "deleted"
)

// TurnState 轮次状态。提问写入后不可变，回答只允许填一次，
// 用显式状态而不是可空字段建模，冲突检测即状态迁移检查。
type TurnState string

const (
	TurnAwaitingAnswer TurnState = "awaiting_answer"
	TurnAnswered       TurnState = "answered"
)

// Conversation 会话。与其向量索引一一对应：创建会话时建索引，
// 删除会话时先删索引。
type Conversation struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Status         ConversationStatus `json:"status"`
	Turns          []Turn             `json:"turns,omitempty"`
	EmbeddingModel string             `json:"embedding_model,omitempty"`
	EmbeddingDims  int                `json:"embedding_dims,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Turn 会话中的一轮：用户提问与（之后补写的）回答。只追加。
type Turn struct {
	Index     int        `json:"index"`
	Timestamp time.Time  `json:"timestamp"`
	UserText  string     `json:"user_text"`
	Answer    string     `json:"answer,omitempty"`
	State     TurnState  `json:"state"`
	Uploads   []Upload   `json:"uploads,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Upload 轮次中的上传引用
type Upload struct {
	DocumentID string    `json:"document_id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Citation 回答对来源块的引用
type Citation struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Text     string `json:"text"`
	Page     int    `json:"page,omitempty"`
	Link     string `json:"link,omitempty"`
}

// Answer 编排器的最终输出
type Answer struct {
	ConversationID string     `json:"conversation_id"`
	TurnIndex      int        `json:"turn_index"`
	Text           string     `json:"text"`
	Citations      []Citation `json:"citations"`
}
