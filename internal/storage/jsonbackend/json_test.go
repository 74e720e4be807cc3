package jsonbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/storage"
)

func post(id string) storage.Post {
	return storage.Post{
		ID:        id,
		Text:      "post " + id + " <3 & more",
		AuthorID:  "author-" + id,
		CreatedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Language:  "en",
	}
}

func ids(posts []storage.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func writeFile(t *testing.T, path string, posts []storage.Post) {
	t.Helper()
	data, err := json.Marshal(posts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWriter_AppendMergesWithoutDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "happy.json")
	writeFile(t, path, []storage.Post{post("B"), post("C")})

	w := New()
	stats, err := w.Write(context.Background(), []storage.Post{post("A"), post("B")}, path, storage.ModeAppend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.Existing != 2 || stats.Added != 1 || stats.Duplicates != 1 || stats.Total != 3 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	got := ids(doc.Posts)
	sort.Strings(got)
	if strings.Join(got, ",") != "A,B,C" {
		t.Errorf("expected {A,B,C}, got %v", got)
	}
}

func TestWriter_OverwriteReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "happy.json")
	writeFile(t, path, []storage.Post{post("B"), post("C")})

	w := New()
	stats, err := w.Write(context.Background(), []storage.Post{post("A"), post("B")}, path, storage.ModeOverwrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Existing != 0 || stats.Total != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if got := strings.Join(ids(doc.Posts), ","); got != "A,B" {
		t.Errorf("expected exactly [A B], got %s", got)
	}
}

func TestWriter_RoundTripSuperset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "happy.json")
	w := New()
	ctx := context.Background()

	first := []storage.Post{post("1"), post("2"), post("3")}
	if _, err := w.Write(ctx, first, path, storage.ModeAppend); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write(ctx, []storage.Post{post("3"), post("4")}, path, storage.ModeAppend); err != nil {
		t.Fatalf("second write: %v", err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}

	seen := map[string]int{}
	for _, p := range doc.Posts {
		seen[p.ID]++
	}
	for _, p := range first {
		if seen[p.ID] != 1 {
			t.Errorf("expected %s exactly once, got %d", p.ID, seen[p.ID])
		}
	}
	if len(doc.Posts) != 4 {
		t.Errorf("expected 4 posts, got %d", len(doc.Posts))
	}
	if !doc.Posts[0].CreatedAt.Equal(first[0].CreatedAt) || doc.Posts[0].Text != first[0].Text {
		t.Errorf("post did not survive round trip: %+v", doc.Posts[0])
	}
}

func TestWriter_MalformedAppendTarget(t *testing.T) {
	tests := map[string]string{
		"string":      `"not json"`,
		"garbage":     `not json at all`,
		"truncated":   `[{"id":"1","text":"x"`,
		"no posts":    `{"data":[]}`,
		"missing ids": `[{"text":"x"}]`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "happy.json")
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}

			_, err := New().Write(context.Background(), []storage.Post{post("A")}, path, storage.ModeAppend)
			if !errors.Is(err, failure.ErrParse) {
				t.Fatalf("expected ParseError, got %v", err)
			}

			after, _ := os.ReadFile(path)
			if string(after) != content {
				t.Errorf("malformed target was modified: %q", after)
			}
		})
	}
}

func TestWriter_OverwriteIgnoresMalformedTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "happy.json")
	if err := os.WriteFile(path, []byte(`"not json"`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := New().Write(context.Background(), []storage.Post{post("A")}, path, storage.ModeOverwrite); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	doc, err := Read(path)
	if err != nil || len(doc.Posts) != 1 {
		t.Fatalf("expected one post after overwrite, got %v (err %v)", doc, err)
	}
}

func TestWriter_EmptyAndObjectTargets(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stats, err := New().Write(context.Background(), []storage.Post{post("A")}, empty, storage.ModeAppend)
	if err != nil {
		t.Fatalf("unexpected error for empty target: %v", err)
	}
	if stats.Existing != 0 || stats.Total != 1 {
		t.Errorf("unexpected stats for empty target: %+v", stats)
	}

	obj := filepath.Join(dir, "obj.json")
	if err := os.WriteFile(obj, []byte(`{"posts":[{"id":"B","text":"hi","created_at":"2026-10-18T12:00:00Z"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stats, err = New().Write(context.Background(), []storage.Post{post("A")}, obj, storage.ModeAppend)
	if err != nil {
		t.Fatalf("unexpected error for object target: %v", err)
	}
	if stats.Existing != 1 || stats.Total != 2 {
		t.Errorf("unexpected stats for object target: %+v", stats)
	}
}

func TestWriter_PreservesPermissionsAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "happy.json")
	writeFile(t, path, []storage.Post{post("B")})

	if _, err := New().Write(context.Background(), []storage.Post{post("A")}, path, storage.ModeAppend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600 preserved, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the output file, found %d entries", len(entries))
	}
}

func TestWriter_Stdout(t *testing.T) {
	var buf bytes.Buffer
	w := New(WithStdout(&buf))

	stats, err := w.Write(context.Background(), []storage.Post{post("A"), post("A"), post("B")}, StdoutPath, storage.ModeAppend)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 || stats.Duplicates != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	var posts []storage.Post
	if err := json.Unmarshal(buf.Bytes(), &posts); err != nil {
		t.Fatalf("stdout is not a JSON array: %v", err)
	}
	if len(posts) != 2 {
		t.Errorf("expected 2 posts, got %d", len(posts))
	}
	if !strings.Contains(buf.String(), "<3 & more") {
		t.Errorf("expected unescaped text in output, got %s", buf.String())
	}
}

func TestWriter_EmptyResultWritesEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	if _, err := New(WithStdout(&buf)).Write(context.Background(), nil, "-", storage.ModeAppend); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected [], got %q", buf.String())
	}
}

func TestWriter_IOError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "happy.json")

	_, err := New().Write(context.Background(), []storage.Post{post("A")}, path, storage.ModeAppend)
	if !errors.Is(err, failure.ErrIO) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestWriter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(t.TempDir(), "happy.json")
	if _, err := New().Write(ctx, []storage.Post{post("A")}, path, storage.ModeAppend); err == nil {
		t.Fatalf("expected context error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat err %v", err)
	}
}
