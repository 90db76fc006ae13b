package playbook

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudflair/agentlink/pkg/errors"
)

func writePlaybook(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const blogPostDoc = `id: content_blog_post
name: Blog Post
description: Drafts a long-form blog post on a topic.
steps:
  - generate
  - score
  - refine
`

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)
	writePlaybook(t, dir, "seo_audit.yaml", "id: seo_audit\nname: SEO Audit\ndescription: Technical SEO audit.\n")

	catalog := NewCatalog(dir)
	def, err := catalog.Resolve(context.Background(), "content_blog_post")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if def.Name != "Blog Post" {
		t.Fatalf("unexpected name: %s", def.Name)
	}
	if def.Body["steps"] == nil {
		t.Fatalf("expected body to carry engine fields")
	}
}

func TestResolveNotFound(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)

	catalog := NewCatalog(dir)
	_, err := catalog.Resolve(context.Background(), "does_not_exist")
	if !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestResolveSkipsMalformedSibling(t *testing.T) {
	dir := t.TempDir()
	// "aaa" sorts before the valid file, so the scan hits it first.
	writePlaybook(t, dir, "aaa_broken.yaml", "id: [unterminated\n")
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)

	catalog := NewCatalog(dir)
	def, err := catalog.Resolve(context.Background(), "content_blog_post")
	if err != nil {
		t.Fatalf("resolve past malformed sibling: %v", err)
	}
	if def.ID != "content_blog_post" {
		t.Fatalf("unexpected id: %s", def.ID)
	}
}

func TestResolveReportsMalformedWhenNoMatch(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "broken.yaml", "id: [unterminated\n")

	catalog := NewCatalog(dir)
	_, err := catalog.Resolve(context.Background(), "content_blog_post")
	if !errors.IsCode(err, errors.CodeMalformedDefinition) {
		t.Fatalf("expected MALFORMED_DEFINITION, got %v", err)
	}
}

func TestResolveRejectsMissingID(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "anonymous.yaml", "name: No ID\ndescription: Missing id field.\n")

	catalog := NewCatalog(dir)
	_, err := catalog.Resolve(context.Background(), "anonymous")
	if !errors.IsCode(err, errors.CodeMalformedDefinition) {
		t.Fatalf("expected MALFORMED_DEFINITION for missing id, got %v", err)
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)
	writePlaybook(t, dir, "broken.yaml", "{{nope")
	writePlaybook(t, dir, "notes.txt", "not a playbook")

	catalog := NewCatalog(dir)
	defs, err := catalog.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	info := defs[0].Info()
	if info.ID != "content_blog_post" || info.Name != "Blog Post" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestReloadInstallsSnapshot(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)

	catalog := NewCatalog(dir)
	if err := catalog.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	// Lookups now serve the snapshot; a new file is invisible until the
	// next Reload.
	writePlaybook(t, dir, "seo_audit.yaml", "id: seo_audit\nname: SEO Audit\ndescription: audit\n")
	if _, err := catalog.Resolve(context.Background(), "seo_audit"); !errors.IsCode(err, errors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND before reload, got %v", err)
	}

	if err := catalog.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := catalog.Resolve(context.Background(), "seo_audit"); err != nil {
		t.Fatalf("resolve after reload: %v", err)
	}
}

func TestResolveHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	writePlaybook(t, dir, "blog_post.yaml", blogPostDoc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := NewCatalog(dir)
	_, err := catalog.Resolve(ctx, "content_blog_post")
	if !errors.IsCode(err, errors.CodeContextLost) {
		t.Fatalf("expected CONTEXT_LOST, got %v", err)
	}
}

func TestResolveMissingDirectory(t *testing.T) {
	catalog := NewCatalog(filepath.Join(t.TempDir(), "missing"))
	_, err := catalog.Resolve(context.Background(), "anything")
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for missing dir, got %v", err)
	}
}
