package vector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// HTTPIndex OpenSearch 兼容的远程向量索引：每个会话一个独立索引，
// 索引名 = 前缀 + 会话 id。
type HTTPIndex struct {
	baseURL    string
	username   string
	password   string
	prefix     string
	httpClient *http.Client
}

// NewHTTPIndex 创建远程向量索引客户端
func NewHTTPIndex(cfg *rag.Config) *HTTPIndex {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // 开发环境
	}
	return &HTTPIndex{
		baseURL:  strings.TrimRight(cfg.VectorURL, "/"),
		username: cfg.VectorUsername,
		password: cfg.VectorPassword,
		prefix:   cfg.IndexPrefix,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// indexName 会话对应的索引名。会话 id 为 UUID，直接拼接即可。
func (c *HTTPIndex) indexName(conversationID string) string {
	return c.prefix + "_" + strings.ToLower(conversationID)
}

// CreateIndex 创建会话索引（knn_vector 映射，模型标识写入 _meta）
func (c *HTTPIndex) CreateIndex(ctx context.Context, conversationID string, dims int, model string) error {
	name := c.indexName(conversationID)

	resp, err := c.doRequest(ctx, "HEAD", "/"+name, nil)
	if err != nil {
		return fmt.Errorf("check index existence: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode == 200 {
		return nil
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"index.knn": true,
		},
		"mappings": map[string]interface{}{
			"_meta": map[string]interface{}{
				"embedding_model": model,
				"embedding_dims":  dims,
			},
			"properties": map[string]interface{}{
				"chunk_id":        map[string]string{"type": "keyword"},
				"doc_id":          map[string]string{"type": "keyword"},
				"conversation_id": map[string]string{"type": "keyword"},
				"filename":        map[string]string{"type": "keyword"},
				"upload_date":     map[string]string{"type": "date"},
				"page":            map[string]string{"type": "integer"},
				"seq":             map[string]string{"type": "integer"},
				"size":            map[string]string{"type": "integer"},
				"overlap":         map[string]string{"type": "integer"},
				"text":            map[string]string{"type": "text"},
				"vector": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": dims,
					"method": map[string]interface{}{
						"name":       "hnsw",
						"space_type": "cosinesimil",
						"engine":     "lucene",
					},
				},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	resp, err = c.doRequest(ctx, "PUT", "/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("create index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	applog.Info("[Vector/HTTP] Index created", "index", name, "dims", dims, "model", model)
	return nil
}

// DeleteIndex 删除会话索引
func (c *HTTPIndex) DeleteIndex(ctx context.Context, conversationID string) error {
	name := c.indexName(conversationID)

	resp, err := c.doRequest(ctx, "DELETE", "/"+name, nil)
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete index failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// IndexModel 从索引 _meta 读取 embedding 模型标识
func (c *HTTPIndex) IndexModel(ctx context.Context, conversationID string) (string, error) {
	name := c.indexName(conversationID)

	resp, err := c.doRequest(ctx, "GET", "/"+name+"/_mapping", nil)
	if err != nil {
		return "", fmt.Errorf("get index mapping: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return "", fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read mapping response: %w", err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("get mapping failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var parsed map[string]struct {
		Mappings struct {
			Meta struct {
				EmbeddingModel string `json:"embedding_model"`
			} `json:"_meta"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse mapping response: %w", err)
	}
	for _, m := range parsed {
		return m.Mappings.Meta.EmbeddingModel, nil
	}
	return "", nil
}

// Upsert 批量写入向量记录（NDJSON bulk，等待 refresh 保证读己之写）
func (c *HTTPIndex) Upsert(ctx context.Context, conversationID string, records []rag.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	name := c.indexName(conversationID)

	var buf bytes.Buffer
	for _, rec := range records {
		action := map[string]interface{}{
			"index": map[string]interface{}{
				"_index": name,
				"_id":    rec.ChunkID,
			},
		}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')

		recLine, _ := json.Marshal(rec)
		buf.Write(recLine)
		buf.WriteByte('\n')
	}

	resp, err := c.doRequest(ctx, "POST", "/_bulk?refresh=wait_for", &buf)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bulk index failed (%d): %s", resp.StatusCode, string(respBody))
	}

	applog.Debug("[Vector/HTTP] Bulk indexed", "index", name, "count", len(records))
	return nil
}

// Delete 按 chunk id 批量删除
func (c *HTTPIndex) Delete(ctx context.Context, conversationID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	name := c.indexName(conversationID)

	var buf bytes.Buffer
	for _, id := range chunkIDs {
		action := map[string]interface{}{
			"delete": map[string]interface{}{
				"_index": name,
				"_id":    id,
			},
		}
		actionLine, _ := json.Marshal(action)
		buf.Write(actionLine)
		buf.WriteByte('\n')
	}

	resp, err := c.doRequest(ctx, "POST", "/_bulk?refresh=wait_for", &buf)
	if err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bulk delete failed (%d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Nearest kNN 向量检索
func (c *HTTPIndex) Nearest(ctx context.Context, conversationID string, vector []float32, k int) ([]rag.Hit, error) {
	name := c.indexName(conversationID)

	query := map[string]interface{}{
		"size": k,
		"query": map[string]interface{}{
			"knn": map[string]interface{}{
				"vector": map[string]interface{}{
					"vector": vector,
					"k":      k,
				},
			},
		},
	}

	body, _ := json.Marshal(query)
	resp, err := c.doRequest(ctx, "POST", "/"+name+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("knn search failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID     string          `json:"_id"`
				Score  float64         `json:"_score"`
				Source json.RawMessage `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	var hits []rag.Hit
	for _, h := range osResp.Hits.Hits {
		var rec rag.ChunkRecord
		if err := json.Unmarshal(h.Source, &rec); err != nil {
			applog.Warn("[Vector/HTTP] Failed to parse hit source", "id", h.ID, "error", err)
			continue
		}
		hits = append(hits, rag.Hit{
			Record: rec,
			// lucene cosinesimil 分数为 (1+cos)/2，还原为余弦相似度
			Score: 2*h.Score - 1,
		})
	}
	return hits, nil
}

// Count 返回索引中的记录数
func (c *HTTPIndex) Count(ctx context.Context, conversationID string) (int, error) {
	name := c.indexName(conversationID)

	resp, err := c.doRequest(ctx, "GET", "/"+name+"/_count", nil)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return 0, fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("read count response: %w", err)
	}
	if resp.StatusCode != 200 {
		return 0, fmt.Errorf("count failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return 0, fmt.Errorf("parse count response: %w", err)
	}
	return parsed.Count, nil
}

// ChunkIDs 返回索引中全部 chunk id
func (c *HTTPIndex) ChunkIDs(ctx context.Context, conversationID string) ([]string, error) {
	name := c.indexName(conversationID)

	query := map[string]interface{}{
		"size":    10000,
		"query":   map[string]interface{}{"match_all": map[string]interface{}{}},
		"_source": false,
	}
	body, _ := json.Marshal(query)

	resp, err := c.doRequest(ctx, "POST", "/"+name+"/_search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("list chunk ids: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("list chunk ids failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var osResp struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(respBody, &osResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	ids := make([]string, 0, len(osResp.Hits.Hits))
	for _, h := range osResp.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

// Ping 检查远程索引服务连通性
func (c *HTTPIndex) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/", nil)
	if err != nil {
		return fmt.Errorf("ping vector backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("vector backend returned status %d", resp.StatusCode)
	}
	return nil
}

// doRequest 执行 HTTP 请求
func (c *HTTPIndex) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	return c.httpClient.Do(req)
}
