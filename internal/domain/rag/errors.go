package rag

import "errors"

// 入库/检索错误定义
var (
	// ErrInvalidArgument 参数非法（由调用方修正，不可重试）
	ErrInvalidArgument = errors.New("rag: invalid argument")

	// ErrUnsupportedMediaType 声明的文件类型不在允许列表内
	ErrUnsupportedMediaType = errors.New("rag: unsupported media type")

	// ErrExtraction 文本提取失败
	ErrExtraction = errors.New("rag: text extraction failed")

	// ErrEmbedding 向量化失败
	ErrEmbedding = errors.New("rag: embedding failed")

	// ErrEmbedderMismatch 查询使用的 embedding 模型与索引记录的模型不一致
	ErrEmbedderMismatch = errors.New("rag: embedding model mismatch")

	// ErrIndexNotFound 会话对应的向量索引不存在
	ErrIndexNotFound = errors.New("rag: vector index not found")
)
