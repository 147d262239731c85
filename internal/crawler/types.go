// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a persisted novel or chapter.
type Status int

// Status values as stored in the status column.
const (
	StatusError      Status = -1
	StatusPending    Status = 0
	StatusSuccess    Status = 1
	StatusProcessing Status = 2
)

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// String renders the status the way operators read it in logs.
func (s Status) String() string {
	switch s {
	case StatusError:
		return "ERROR"
	case StatusPending:
		return "PENDING"
	case StatusSuccess:
		return "SUCCESS"
	case StatusProcessing:
		return "PROCESSING"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Terminal reports whether no further transition happens within a run.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Novel is a serialized work hosted on an external site.
type Novel struct {
	ID            int64  `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	CoverURL      string `json:"cover_url"`
	Status        Status `json:"status"`
	TotalChapters int    `json:"total_chapters"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// Chapter is one installment of a Novel.
type Chapter struct {
	ID           int64  `json:"id"`
	NovelID      int64  `json:"novel_id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Number       int    `json:"number"`
	Content      string `json:"content"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ChapterLink is a chapter reference found on a novel index page.
type ChapterLink struct {
	URL    string `json:"url"`
	Title  string `json:"title"`
	Number int    `json:"number"`
}

// NovelResult is what novel discovery recovers from the novel index page.
type NovelResult struct {
	Title       string
	Author      string
	Description string
	CoverURL    string
	Chapters    []ChapterLink
}

// ChapterResult is what chapter discovery recovers from a chapter page.
type ChapterResult struct {
	Title   string
	Content string
	// Decoded is true when an obfuscation font was found and applied.
	Decoded bool
	FontURL string
	BlobURI string
}
