package models

import (
	"time"
)

// RawItem represents a Hacker News item as returned by the upstream API
type RawItem struct {
	ID          int    `json:"id"`
	Deleted     bool   `json:"deleted,omitempty"`
	Type        string `json:"type"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time"`
	Text        string `json:"text,omitempty"`
	Dead        bool   `json:"dead,omitempty"`
	Parent      int    `json:"parent,omitempty"`
	Poll        int    `json:"poll,omitempty"`
	Kids        []int  `json:"kids,omitempty"`
	URL         string `json:"url,omitempty"`
	Score       *int   `json:"score,omitempty"`
	Title       string `json:"title,omitempty"`
	Parts       []int  `json:"parts,omitempty"`
	Descendants int    `json:"descendants"`
}

// RawUser represents a Hacker News user as returned by the upstream API
type RawUser struct {
	ID        string `json:"id"`
	Created   int64  `json:"created"`
	Karma     int    `json:"karma"`
	About     string `json:"about,omitempty"`
	Submitted []int  `json:"submitted,omitempty"`
}

// ItemTree is an item together with its fetched comment subtree.
// A nil entry in Comments marks a child that failed to resolve.
type ItemTree struct {
	Item     RawItem
	Comments []*ItemTree
	Parts    []RawItem
}

// Item is the flattened, display-ready shape of an item and its comments
type Item struct {
	ID            int       `json:"id"`
	Title         string    `json:"title"`
	Points        *int      `json:"points"`
	User          *string   `json:"user"`
	Time          int64     `json:"time"`
	TimeAgo       string    `json:"time_ago"`
	Content       string    `json:"content"`
	Deleted       bool      `json:"deleted,omitempty"`
	Dead          bool      `json:"dead,omitempty"`
	Type          string    `json:"type"`
	URL           string    `json:"url"`
	Domain        string    `json:"domain,omitempty"`
	Comments      []Item    `json:"comments"`
	Level         *int      `json:"level,omitempty"`
	CommentsCount int       `json:"comments_count"`
	Parts         []RawItem `json:"parts,omitempty"`
}

// Story is a single entry of a topic listing
type Story struct {
	ID            int     `json:"id"`
	Title         string  `json:"title"`
	Points        *int    `json:"points"`
	User          *string `json:"user"`
	Time          int64   `json:"time"`
	TimeAgo       string  `json:"time_ago"`
	CommentsCount int     `json:"comments_count"`
	Type          string  `json:"type"`
	URL           string  `json:"url"`
	Domain        string  `json:"domain,omitempty"`
}

// User is the display shape of a Hacker News user
type User struct {
	ID          string `json:"id"`
	About       string `json:"about,omitempty"`
	CreatedTime int64  `json:"created_time"`
	Created     string `json:"created"`
	Karma       int    `json:"karma"`
}

// PublishRun records a single snapshot run
type PublishRun struct {
	ID           string     `json:"id"`
	Dest         string     `json:"dest"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	FilesWritten int        `json:"files_written"`
	Error        string     `json:"error,omitempty"`
}

// PublishedFile records a single file written by a snapshot run
type PublishedFile struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Bytes     int       `json:"bytes"`
	WrittenAt time.Time `json:"written_at"`
}
