package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	gosync "sync"
	"testing"
	"time"

	"github.com/cloudflair/agentlink/pkg/engine"
	"github.com/cloudflair/agentlink/pkg/errors"
	"github.com/cloudflair/agentlink/pkg/identity"
	"github.com/cloudflair/agentlink/pkg/playbook"
	"github.com/cloudflair/agentlink/pkg/resilience"
	"github.com/cloudflair/agentlink/pkg/sync"
)

func testCatalog(t *testing.T) *playbook.Catalog {
	t.Helper()
	dir := t.TempDir()
	doc := `id: content_blog_post
name: Blog Post
description: Drafts a long-form blog post on a topic.
`
	if err := os.WriteFile(filepath.Join(dir, "blog_post.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write playbook: %v", err)
	}
	return playbook.NewCatalog(dir)
}

func testIdentity(t *testing.T) identity.Identity {
	t.Helper()
	id, err := identity.New("ContentAgent", identity.SecretFromString("sk-content"))
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	return id
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestExecutePlaybookReturnsEngineResult(t *testing.T) {
	mock := &engine.MockEngine{Result: map[string]any{"status": "ok", "wordCount": 500}}
	runtime, err := New(testIdentity(t), testCatalog(t), mock)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	result, err := runtime.ExecutePlaybook(context.Background(), "content_blog_post", map[string]any{"topic": "AI Agents"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := map[string]any{"status": "ok", "wordCount": 500}
	if !reflect.DeepEqual(result, want) {
		t.Fatalf("result changed in transit: %v", result)
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one engine invocation, got %d", len(calls))
	}
	if calls[0].PlaybookID != "content_blog_post" || calls[0].Context["topic"] != "AI Agents" {
		t.Fatalf("unexpected engine call: %+v", calls[0])
	}
}

func TestExecutePlaybookNotFoundSkipsEngine(t *testing.T) {
	mock := &engine.MockEngine{Result: "never"}
	runtime, err := New(testIdentity(t), testCatalog(t), mock)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	_, err = runtime.ExecutePlaybook(context.Background(), "does_not_exist", nil)
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	if len(mock.Calls()) != 0 {
		t.Fatalf("engine must not run for unknown playbooks")
	}
}

func TestExecutePlaybookEngineFailureNotSynchronized(t *testing.T) {
	deliveries := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	failing := &engine.FailingEngine{}
	client := sync.New(server.URL, sync.WithRetryConfig(fastRetry()))
	runtime, err := New(testIdentity(t), testCatalog(t), failing, WithSyncClient(client))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	_, err = runtime.ExecutePlaybook(context.Background(), "content_blog_post", nil)
	if !errors.IsCode(err, errors.CodeExecutionFailed) {
		t.Fatalf("expected EXECUTION_FAILED, got %v", err)
	}

	if err := runtime.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if deliveries != 0 {
		t.Fatalf("failed executions must not be synchronized, saw %d deliveries", deliveries)
	}
}

func TestExecutePlaybookSurvivesUnreachableEndpoint(t *testing.T) {
	mock := &engine.MockEngine{Result: map[string]any{"status": "ok"}}
	client := sync.New("http://127.0.0.1:1", sync.WithRetryConfig(fastRetry()))
	runtime, err := New(testIdentity(t), testCatalog(t), mock, WithSyncClient(client))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	result, err := runtime.ExecutePlaybook(context.Background(), "content_blog_post", nil)
	if err != nil {
		t.Fatalf("delivery failure leaked into execution: %v", err)
	}
	if result == nil {
		t.Fatalf("expected result despite unreachable endpoint")
	}
	if err := runtime.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestExecutePlaybookEndToEnd(t *testing.T) {
	var mu gosync.Mutex
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mock := &engine.MockEngine{Result: map[string]any{"status": "ok", "wordCount": 500}}
	client := sync.New(server.URL, sync.WithRetryConfig(fastRetry()))
	runtime, err := New(testIdentity(t), testCatalog(t), mock, WithSyncClient(client))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	result, err := runtime.ExecutePlaybook(context.Background(), "content_blog_post", map[string]any{"topic": "AI Agents"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !reflect.DeepEqual(result, map[string]any{"status": "ok", "wordCount": 500}) {
		t.Fatalf("unexpected result: %v", result)
	}

	if err := runtime.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected exactly one delivery attempt, got %d", len(bodies))
	}
	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			PlaybookID string `json:"playbook_id"`
			Agent      string `json:"agent"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(bodies[0], &decoded); err != nil {
		t.Fatalf("decode delivery: %v", err)
	}
	if decoded.Payload.PlaybookID != "content_blog_post" {
		t.Fatalf("unexpected playbook_id on the wire: %s", decoded.Payload.PlaybookID)
	}
	if decoded.Payload.Agent != "ContentAgent" {
		t.Fatalf("unexpected agent on the wire: %s", decoded.Payload.Agent)
	}
}

func TestListPlaybooks(t *testing.T) {
	runtime, err := New(testIdentity(t), testCatalog(t), &engine.MockEngine{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	infos, err := runtime.ListPlaybooks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 playbook, got %d", len(infos))
	}
	if infos[0].ID != "content_blog_post" || infos[0].Name != "Blog Post" {
		t.Fatalf("unexpected info: %+v", infos[0])
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	if _, err := New(testIdentity(t), nil, &engine.MockEngine{}); err == nil {
		t.Fatalf("expected error for nil catalog")
	}
	if _, err := New(testIdentity(t), testCatalog(t), nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}
