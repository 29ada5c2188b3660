package chat

import "errors"

// 会话存储/编排错误定义
var (
	// ErrEmptyPrompt 提问内容为空（由调用方修正）
	ErrEmptyPrompt = errors.New("chat: empty prompt")

	// ErrNotFound 会话或轮次不存在（或已删除）
	ErrNotFound = errors.New("chat: not found")

	// ErrConflict 并发写冲突（如重复写入同一轮次的回答）
	ErrConflict = errors.New("chat: conflict")

	// ErrDependency 级联/补偿动作失败（如删除会话时索引删除失败）
	ErrDependency = errors.New("chat: dependency operation failed")

	// ErrGeneration 回答生成失败
	ErrGeneration = errors.New("chat: answer generation failed")

	// ErrNoTurns 会话还没有任何轮次（上传引用需要先创建承载轮次）
	ErrNoTurns = errors.New("chat: conversation has no turns")
)
