package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Post represents a single retrieved post. Posts are immutable once retrieved.
type Post struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	AuthorID  string    `json:"author_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Language  string    `json:"language,omitempty"`
	Username  string    `json:"username,omitempty"`
	URL       string    `json:"url,omitempty"`

	// ProfileImageURL is the author's avatar, when the users expansion has it.
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// Document is the persisted collection of posts.
type Document struct {
	Posts []Post `json:"posts"`
}

// IDs returns the set of post IDs in the document.
func (d *Document) IDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(d.Posts))
	for _, p := range d.Posts {
		ids[p.ID] = struct{}{}
	}
	return ids
}

// Merge appends posts whose IDs are not yet present, keeping the first
// occurrence of each ID. It returns how many were added and skipped.
func (d *Document) Merge(posts []Post) (added, duplicates int) {
	seen := d.IDs()
	for _, p := range posts {
		if _, dup := seen[p.ID]; dup {
			duplicates++
			continue
		}
		seen[p.ID] = struct{}{}
		d.Posts = append(d.Posts, p)
		added++
	}
	return added, duplicates
}

// Mode selects how a Writer treats an existing destination.
type Mode int

const (
	// ModeAppend merges new posts into an existing document.
	ModeAppend Mode = iota
	// ModeOverwrite discards any existing content.
	ModeOverwrite
)

func (m Mode) String() string {
	switch m {
	case ModeAppend:
		return "append"
	case ModeOverwrite:
		return "overwrite"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a flag value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "append":
		return ModeAppend, nil
	case "overwrite":
		return ModeOverwrite, nil
	}
	return 0, fmt.Errorf("unknown output mode %q (want append or overwrite)", s)
}

// Stats describes the outcome of a Write.
type Stats struct {
	Existing   int // posts already at the destination
	Added      int // new posts written
	Duplicates int // incoming posts skipped because their ID was present
	Total      int // posts in the written document
}

// Writer persists posts to a destination.
type Writer interface {
	Write(ctx context.Context, posts []Post, destination string, mode Mode) (Stats, error)
}
