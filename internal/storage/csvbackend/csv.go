package csvbackend

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/storage"
)

// ensure Writer implements storage.Writer
var _ storage.Writer = (*Writer)(nil)

// headers defines the CSV column order
var headers = []string{
	"id",
	"created_at",
	"author_id",
	"username",
	"language",
	"url",
	"profile_image_url",
	"text",
}

// Writer stores posts as CSV with a header row. Append and overwrite follow
// the same rules as the JSON writer.
type Writer struct {
	stdout io.Writer
	logger *slog.Logger
}

// New creates a CSV Writer. A nil stdout means os.Stdout.
func New(stdout io.Writer, logger *slog.Logger) *Writer {
	if stdout == nil {
		stdout = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{stdout: stdout, logger: logger}
}

func (w *Writer) Write(ctx context.Context, posts []storage.Post, destination string, mode storage.Mode) (storage.Stats, error) {
	const op = "write output"

	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}

	doc := &storage.Document{}
	if storage.IsStdout(destination) {
		return w.stream(w.stdout, doc, posts)
	}

	info, err := os.Stat(destination)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		info = nil
	case err != nil:
		return storage.Stats{}, failure.Wrap(failure.KindIO, op, err)
	case !info.Mode().IsRegular():
		f, err := os.OpenFile(destination, os.O_WRONLY, 0)
		if err != nil {
			return storage.Stats{}, failure.Wrap(failure.KindIO, op, err)
		}
		stats, werr := w.stream(f, doc, posts)
		if cerr := f.Close(); werr == nil && cerr != nil {
			werr = failure.Wrap(failure.KindIO, op, cerr)
		}
		return stats, werr
	}

	perm := storage.DefaultPerm
	if info != nil {
		perm = info.Mode().Perm()
		if mode == storage.ModeAppend {
			if doc, err = Read(destination); err != nil {
				return storage.Stats{}, err
			}
		}
	}

	stats := storage.Stats{Existing: len(doc.Posts)}
	stats.Added, stats.Duplicates = doc.Merge(posts)
	stats.Total = len(doc.Posts)

	data, err := encode(doc)
	if err != nil {
		return storage.Stats{}, err
	}
	if err := storage.WriteFileAtomic(destination, data, perm); err != nil {
		return storage.Stats{}, err
	}

	w.logger.Debug("output written", "path", destination, "format", "csv", "mode", mode.String(),
		"existing", stats.Existing, "added", stats.Added, "duplicates", stats.Duplicates)
	return stats, nil
}

func (w *Writer) stream(out io.Writer, doc *storage.Document, posts []storage.Post) (storage.Stats, error) {
	var stats storage.Stats
	stats.Added, stats.Duplicates = doc.Merge(posts)
	stats.Total = len(doc.Posts)

	data, err := encode(doc)
	if err != nil {
		return storage.Stats{}, err
	}
	if _, err := out.Write(data); err != nil {
		return storage.Stats{}, failure.Wrap(failure.KindIO, "write output", err)
	}
	return stats, nil
}

// Read loads the posts stored at path. An empty file is an empty document.
func Read(path string) (*storage.Document, error) {
	const op = "read existing output"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, op, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &storage.Document{}, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	head, err := r.Read()
	if err != nil {
		return nil, failure.Wrapf(failure.KindParse, op, err, "%s is not a CSV file", path)
	}
	col := make(map[string]int, len(head))
	for i, h := range head {
		col[h] = i
	}
	if _, ok := col["id"]; !ok {
		return nil, failure.New(failure.KindParse, op, fmt.Sprintf("%s has no id column", path))
	}
	field := func(record []string, name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}

	doc := &storage.Document{}
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, failure.Wrapf(failure.KindParse, op, err, "%s: malformed row", path)
		}

		p := storage.Post{
			ID:       field(record, "id"),
			Text:     field(record, "text"),
			AuthorID: field(record, "author_id"),
			Language: field(record, "language"),
			Username: field(record, "username"),
			URL:      field(record, "url"),

			ProfileImageURL: field(record, "profile_image_url"),
		}
		if p.ID == "" {
			return nil, failure.New(failure.KindParse, op, fmt.Sprintf("%s: row %d has no id", path, line))
		}
		if v := field(record, "created_at"); v != "" {
			if p.CreatedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
				return nil, failure.Wrapf(failure.KindParse, op, err, "%s: row %d has a bad created_at", path, line)
			}
		}
		doc.Posts = append(doc.Posts, p)
	}
	return doc, nil
}

func encode(doc *storage.Document) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(headers); err != nil {
		return nil, failure.Wrap(failure.KindIO, "encode output", err)
	}

	for _, p := range doc.Posts {
		created := ""
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt.Format(time.RFC3339Nano)
		}
		record := []string{p.ID, created, p.AuthorID, p.Username, p.Language, p.URL, p.ProfileImageURL, p.Text}
		if err := cw.Write(record); err != nil {
			return nil, failure.Wrap(failure.KindIO, "encode output", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, failure.Wrap(failure.KindIO, "encode output", err)
	}
	return buf.Bytes(), nil
}
