package jsonbackend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/FranksOps/happytweet/internal/failure"
	"github.com/FranksOps/happytweet/internal/storage"
)

// ensure Writer implements storage.Writer
var _ storage.Writer = (*Writer)(nil)

// StdoutPath is the default destination; it is written as a plain stream.
const StdoutPath = storage.StdoutPath

// Writer serializes posts as an indented JSON array. Regular files are
// replaced atomically through a temporary file in the same directory.
type Writer struct {
	stdout io.Writer
	logger *slog.Logger
}

// Option customizes a Writer.
type Option func(*Writer)

// WithStdout redirects the standard output sink.
func WithStdout(out io.Writer) Option {
	return func(w *Writer) { w.stdout = out }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// New creates a JSON Writer.
func New(opts ...Option) *Writer {
	w := &Writer{stdout: os.Stdout}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Write persists posts to destination. In append mode an existing document is
// loaded and the new posts merged into it, duplicates by ID suppressed. An
// existing destination that is not a valid document is left untouched and a
// ParseError returned.
func (w *Writer) Write(ctx context.Context, posts []storage.Post, destination string, mode storage.Mode) (storage.Stats, error) {
	const op = "write output"

	if err := ctx.Err(); err != nil {
		return storage.Stats{}, err
	}

	if storage.IsStdout(destination) {
		return w.writeStream(w.stdout, posts)
	}

	info, err := os.Stat(destination)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		info = nil
	case err != nil:
		return storage.Stats{}, failure.Wrap(failure.KindIO, op, err)
	case !info.Mode().IsRegular():
		// Devices and pipes cannot be renamed over or read back.
		f, err := os.OpenFile(destination, os.O_WRONLY, 0)
		if err != nil {
			return storage.Stats{}, failure.Wrap(failure.KindIO, op, err)
		}
		stats, werr := w.writeStream(f, posts)
		if cerr := f.Close(); werr == nil && cerr != nil {
			werr = failure.Wrap(failure.KindIO, op, cerr)
		}
		return stats, werr
	}

	doc := &storage.Document{}
	perm := storage.DefaultPerm
	if info != nil {
		perm = info.Mode().Perm()
		if mode == storage.ModeAppend {
			doc, err = readDocument(destination)
			if err != nil {
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

	w.logger.Debug("output written", "path", destination, "mode", mode.String(),
		"existing", stats.Existing, "added", stats.Added, "duplicates", stats.Duplicates)
	return stats, nil
}

// Read loads the document stored at path.
func Read(path string) (*storage.Document, error) {
	return readDocument(path)
}

func (w *Writer) writeStream(out io.Writer, posts []storage.Post) (storage.Stats, error) {
	doc := &storage.Document{}
	stats := storage.Stats{}
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

func readDocument(path string) (*storage.Document, error) {
	const op = "read existing output"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, op, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &storage.Document{}, nil
	}

	doc := &storage.Document{}
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &doc.Posts); err != nil {
			return nil, failure.Wrapf(failure.KindParse, op, err, "%s is not a JSON array of posts", path)
		}
	case '{':
		var obj struct {
			Posts *[]storage.Post `json:"posts"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, failure.Wrapf(failure.KindParse, op, err, "%s is not a posts document", path)
		}
		if obj.Posts == nil {
			return nil, failure.New(failure.KindParse, op, fmt.Sprintf("%s has no posts field", path))
		}
		doc.Posts = *obj.Posts
	default:
		return nil, failure.New(failure.KindParse, op, fmt.Sprintf("%s does not contain a posts document", path))
	}

	for i, p := range doc.Posts {
		if p.ID == "" {
			return nil, failure.New(failure.KindParse, op, fmt.Sprintf("%s: post %d has no id", path, i))
		}
	}
	return doc, nil
}

func encode(doc *storage.Document) ([]byte, error) {
	posts := doc.Posts
	if posts == nil {
		posts = []storage.Post{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(posts); err != nil {
		return nil, failure.Wrap(failure.KindIO, "encode output", err)
	}
	return buf.Bytes(), nil
}
