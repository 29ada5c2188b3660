package rag

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

type csvParser struct{}

func (p *csvParser) Parse(reader io.Reader, filename string) (*ParseResult, error) {
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return &ParseResult{Content: string(raw)}, nil
}

func (p *csvParser) SupportedTypes() []string { return []string{".csv"} }

func TestRegistryGet(t *testing.T) {
	r := NewParserRegistry()

	cases := []struct {
		declared string
		ok       bool
	}{
		{".pdf", true},
		{"pdf", true},
		{"PDF", true},
		{".md", true},
		{".markdown", true},
		{".docx", true},
		{".txt", true},
		{".exe", false},
		{"", false},
	}
	for _, tc := range cases {
		p, err := r.Get(tc.declared)
		if tc.ok && (err != nil || p == nil) {
			t.Errorf("Get(%q): unexpected error %v", tc.declared, err)
		}
		if !tc.ok && !errors.Is(err, ErrUnsupportedMediaType) {
			t.Errorf("Get(%q): expected ErrUnsupportedMediaType, got %v", tc.declared, err)
		}
	}
}

func TestRegistryGetErrorListsSupportedTypes(t *testing.T) {
	r := NewParserRegistry()
	_, err := r.Get(".exe")
	if err == nil || !strings.Contains(err.Error(), ".pdf") {
		t.Errorf("error should name the supported types, got %v", err)
	}
}

func TestRegistryGetByFilename(t *testing.T) {
	r := NewParserRegistry()
	if _, err := r.GetByFilename("report.PDF"); err != nil {
		t.Errorf("GetByFilename: %v", err)
	}
	if _, err := r.GetByFilename("noextension"); !errors.Is(err, ErrUnsupportedMediaType) {
		t.Errorf("expected ErrUnsupportedMediaType, got %v", err)
	}
}

func TestRegistryConcurrentRegisterAndGet(t *testing.T) {
	r := NewParserRegistry()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.Register(&csvParser{})
			}()
			go func() {
				defer wg.Done()
				// 未命中路径会构造包含允许列表的错误消息
				_, err := r.Get(".zzz")
				if !errors.Is(err, ErrUnsupportedMediaType) {
					panic(fmt.Sprintf("unexpected error: %v", err))
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("registry lookup deadlocked under concurrent registration")
	}

	if _, err := r.Get(".csv"); err != nil {
		t.Errorf("registered parser not found: %v", err)
	}
}
