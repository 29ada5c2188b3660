package rag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ParserRegistry 文档解析器注册表。注册的扩展名即入库类型允许列表。
type ParserRegistry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // key = ".ext"
}

// NewParserRegistry 创建解析器注册表并注册内置解析器
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{
		parsers: make(map[string]Parser),
	}

	// 注册内置解析器
	r.Register(&MarkdownParser{})
	r.Register(&PlainTextParser{})
	r.Register(&PDFParser{})
	r.Register(&DOCXParser{})

	return r
}

// Register 注册解析器
func (r *ParserRegistry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range p.SupportedTypes() {
		r.parsers[strings.ToLower(ext)] = p
	}
}

// Get 根据声明类型（"pdf" 或 ".pdf"）获取解析器。
// 类型不在允许列表内返回 ErrUnsupportedMediaType。
func (r *ParserRegistry) Get(declaredType string) (Parser, error) {
	ext := normalizeExt(declaredType)
	if ext == "." {
		return nil, fmt.Errorf("%w: empty declared type", ErrUnsupportedMediaType)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %s)", ErrUnsupportedMediaType, ext, r.supportedTypesLocked())
	}
	return p, nil
}

// GetByFilename 根据文件名扩展名获取解析器
func (r *ParserRegistry) GetByFilename(filename string) (Parser, error) {
	return r.Get(filepath.Ext(filename))
}

// Supports 声明类型是否在允许列表内
func (r *ParserRegistry) Supports(declaredType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.parsers[normalizeExt(declaredType)]
	return ok
}

// SupportedTypes 返回所有支持的文件扩展名
func (r *ParserRegistry) SupportedTypes() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.supportedTypesLocked()
}

// 调用方必须已持有 r.mu
func (r *ParserRegistry) supportedTypesLocked() string {
	types := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		types = append(types, ext)
	}
	sort.Strings(types)
	return strings.Join(types, ", ")
}

func normalizeExt(declaredType string) string {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	if !strings.HasPrefix(t, ".") {
		t = "." + t
	}
	return t
}
