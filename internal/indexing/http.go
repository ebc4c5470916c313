package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPBackend 通过REST接口写入搜索引擎
// 文档写入 POST {url}/{index}/_doc，不做重试
type HTTPBackend struct {
	client    *http.Client
	baseURL   string
	indexName string
	username  string
	password  string
	headers   map[string]string
	logger    *logrus.Logger
}

// indexAck 搜索引擎写入成功的应答
type indexAck struct {
	ID     string `json:"_id"`
	Result string `json:"result"`
}

// errorReply 搜索引擎返回的结构化错误
type errorReply struct {
	Error *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// getReply 获取文档的应答
type getReply struct {
	ID     string          `json:"_id"`
	Found  bool            `json:"found"`
	Source *StoredDocument `json:"_source"`
}

// NewHTTPBackend 创建HTTP后端
func NewHTTPBackend(cfg Config) (Backend, error) {
	if cfg.URL == "" {
		return nil, errors.New("search engine url is empty")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid search engine url: %w", err)
	}
	if cfg.IndexName == "" {
		cfg.IndexName = DefaultConfig().IndexName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPBackend{
		client:    client,
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		indexName: cfg.IndexName,
		username:  cfg.Username,
		password:  cfg.Password,
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "Doc-Indexer-Go-Client/1.0",
		},
		logger: logger,
	}, nil
}

func (h *HTTPBackend) docURL(id string) string {
	u := fmt.Sprintf("%s/%s/_doc", h.baseURL, url.PathEscape(h.indexName))
	if id != "" {
		u += "/" + url.PathEscape(id)
	}
	return u
}

func (h *HTTPBackend) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}
	if h.username != "" {
		req.SetBasicAuth(h.username, h.password)
	}
	return req, nil
}

// do 执行请求并读取完整响应体
func (h *HTTPBackend) do(req *http.Request) (int, []byte, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// Index 索引文档
func (h *HTTPBackend) Index(ctx context.Context, doc Document) (IndexResponse, error) {
	if doc == nil {
		return IndexResponse{}, ErrNilDocument
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return IndexResponse{}, fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := h.newRequest(ctx, http.MethodPost, h.docURL(""), bytes.NewReader(payload))
	if err != nil {
		return IndexResponse{}, err
	}

	status, body, err := h.do(req)
	if err != nil {
		return IndexResponse{}, err
	}

	if status >= 400 {
		// 结构化错误视为后端拒绝，诊断信息原样返回
		var reply errorReply
		if err := json.Unmarshal(body, &reply); err == nil && reply.Error != nil {
			h.logger.WithFields(logrus.Fields{
				"status": status,
				"type":   reply.Error.Type,
			}).Debug("Search engine rejected document")
			return IndexResponse{
				Valid:      false,
				Diagnostic: fmt.Sprintf("%s: %s", reply.Error.Type, reply.Error.Reason),
			}, nil
		}
		return IndexResponse{}, fmt.Errorf("search engine returned status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var ack indexAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return IndexResponse{}, fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}
	if ack.ID == "" {
		return IndexResponse{Valid: false, Diagnostic: "search engine response carried no document id"}, nil
	}

	return IndexResponse{ID: ack.ID, Valid: true}, nil
}

// Get 获取文档
func (h *HTTPBackend) Get(ctx context.Context, id string) (*StoredDocument, error) {
	req, err := h.newRequest(ctx, http.MethodGet, h.docURL(id), nil)
	if err != nil {
		return nil, err
	}

	status, body, err := h.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrDocumentNotFound
	}
	if status >= 400 {
		return nil, fmt.Errorf("search engine returned status %d: %s", status, strings.TrimSpace(string(body)))
	}

	var reply getReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}
	if !reply.Found || reply.Source == nil {
		return nil, ErrDocumentNotFound
	}
	reply.Source.ID = reply.ID
	return reply.Source, nil
}

// Delete 删除文档
func (h *HTTPBackend) Delete(ctx context.Context, id string) error {
	req, err := h.newRequest(ctx, http.MethodDelete, h.docURL(id), nil)
	if err != nil {
		return err
	}

	status, body, err := h.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	if status >= 400 {
		return fmt.Errorf("search engine returned status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Name 后端名称
func (h *HTTPBackend) Name() string {
	return BackendHTTP
}

// Close 释放空闲连接
func (h *HTTPBackend) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func init() {
	RegisterBackend(BackendHTTP, NewHTTPBackend)
}
