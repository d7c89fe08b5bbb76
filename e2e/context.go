package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext carries HTTP state across the steps of one scenario. Actor
// names used in feature files are aliases; each scenario maps them to
// fresh ids so scenarios never collide on a shared server.
type TestContext struct {
	BaseURL    string
	AdminToken string

	client     *http.Client
	suffix     string
	tokens     map[string]string
	saved      map[string]string
	lastStatus int
	lastBody   []byte
}

func NewTestContext(baseURL, adminToken string) *TestContext {
	return &TestContext{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Reset clears per-scenario state.
func (tc *TestContext) Reset() {
	tc.suffix = fmt.Sprintf("%d", time.Now().UnixNano())
	tc.tokens = make(map[string]string)
	tc.saved = make(map[string]string)
	tc.lastStatus = 0
	tc.lastBody = nil
}

func (tc *TestContext) ActorID(alias string) string {
	return alias + "-" + tc.suffix
}

func (tc *TestContext) SetToken(alias, token string) {
	tc.tokens[alias] = token
}

func (tc *TestContext) Save(key, value string) {
	tc.saved[key] = value
}

func (tc *TestContext) Saved(key string) string {
	return tc.saved[key]
}

func (tc *TestContext) AdminPOST(ctx context.Context, path string, body any) error {
	return tc.do(ctx, http.MethodPost, path, body, map[string]string{"X-Admin-Token": tc.AdminToken})
}

func (tc *TestContext) POSTAs(ctx context.Context, alias, path string, body any) error {
	return tc.do(ctx, http.MethodPost, path, body, tc.bearer(alias))
}

func (tc *TestContext) GETAs(ctx context.Context, alias, path string) error {
	return tc.do(ctx, http.MethodGet, path, nil, tc.bearer(alias))
}

func (tc *TestContext) GetLastResponseStatus() int {
	return tc.lastStatus
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.lastBody
}

// GetResponseField reads a top-level field from the last JSON response.
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var body map[string]any
	if err := json.Unmarshal(tc.lastBody, &body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	v, ok := body[field]
	if !ok {
		return nil, fmt.Errorf("field %q not in response: %s", field, tc.lastBody)
	}
	return v, nil
}

func (tc *TestContext) bearer(alias string) map[string]string {
	if token, ok := tc.tokens[alias]; ok {
		return map[string]string{"Authorization": "Bearer " + token}
	}
	return nil
}

func (tc *TestContext) do(ctx context.Context, method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, tc.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	tc.lastStatus = resp.StatusCode
	tc.lastBody, err = io.ReadAll(resp.Body)
	return err
}
