package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 回答生成后端注册表。进程启动时在组装阶段注册，
// 生成回答时按配置的供应商名查找。
type Registry struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
}

var globalProviderRegistry = &Registry{
	providers: make(map[string]LLMProvider),
}

// RegisterProvider 注册生成后端，同名覆盖
func RegisterProvider(provider LLMProvider) {
	globalProviderRegistry.mu.Lock()
	defer globalProviderRegistry.mu.Unlock()
	globalProviderRegistry.providers[provider.Name()] = provider
}

// GetProvider 按名称获取生成后端
func GetProvider(name string) (LLMProvider, error) {
	globalProviderRegistry.mu.RLock()
	defer globalProviderRegistry.mu.RUnlock()
	p, ok := globalProviderRegistry.providers[name]
	if !ok {
		if len(globalProviderRegistry.providers) == 0 {
			return nil, fmt.Errorf("no answer provider registered, wanted %q", name)
		}
		return nil, fmt.Errorf("answer provider %q not registered (have: %s)",
			name, strings.Join(registeredNamesLocked(), ", "))
	}
	return p, nil
}

// ListProviders 列出已注册的生成后端名称（有序）
func ListProviders() []string {
	globalProviderRegistry.mu.RLock()
	defer globalProviderRegistry.mu.RUnlock()
	return registeredNamesLocked()
}

// 调用方必须已持有注册表锁
func registeredNamesLocked() []string {
	names := make([]string, 0, len(globalProviderRegistry.providers))
	for name := range globalProviderRegistry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
