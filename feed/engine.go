package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/models"
)

// Source is the remote item store the engine reads from.
// A nil result with a nil error means the record does not exist.
type Source interface {
	FetchItem(ctx context.Context, id int) (*models.RawItem, error)
	FetchIDList(ctx context.Context, list string) ([]int, error)
	FetchUser(ctx context.Context, id string) (*models.RawUser, error)
}

// Options tunes the display transformation
type Options struct {
	// Sanitize runs item content through a user-generated-content HTML policy
	Sanitize bool
	// Clock overrides time.Now for relative time strings
	Clock func() time.Time
}

// Engine fetches item trees and listings and maps them into display records
type Engine struct {
	source Source
	policy *bluemonday.Policy
	clock  func() time.Time
	log    *logrus.Logger
}

// NewEngine creates a new engine reading from source
func NewEngine(source Source, log *logrus.Logger, opts Options) *Engine {
	engine := &Engine{
		source: source,
		clock:  opts.Clock,
		log:    log,
	}
	if engine.clock == nil {
		engine.clock = time.Now
	}
	if opts.Sanitize {
		engine.policy = bluemonday.UGCPolicy()
	}
	return engine
}

// GetItem fetches an item with its full comment tree and flattens it.
// Returns nil when the root item does not exist.
func (e *Engine) GetItem(ctx context.Context, id int) (*models.Item, error) {
	tree, err := e.FetchTree(ctx, id)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, nil
	}

	item := flattener{now: e.clock(), policy: e.policy}.flatten(tree)

	e.log.WithFields(logrus.Fields{
		"id":             id,
		"comments_count": item.CommentsCount,
		"descendants":    tree.Item.Descendants,
	}).Debug("Flattened item tree")

	return &item, nil
}

// GetStories returns one page of a topic listing.
// Unknown topics and pages past the end of the list yield an empty slice.
func (e *Engine) GetStories(ctx context.Context, topicName string, page int) ([]models.Story, error) {
	stories := []models.Story{}

	topic, ok := ParseTopic(topicName)
	if !ok {
		e.log.WithField("topic", topicName).Debug("Unknown topic requested")
		return stories, nil
	}
	if page < 1 {
		page = 1
	}

	ids, err := e.source.FetchIDList(ctx, topic.List())
	if err != nil {
		return stories, fmt.Errorf("failed to fetch %s stories: %w", topic, err)
	}

	start := (page - 1) * PageSize
	if start >= len(ids) {
		return stories, nil
	}
	end := start + PageSize
	if end > len(ids) {
		end = len(ids)
	}
	pageIDs := ids[start:end]

	items := make([]*models.RawItem, len(pageIDs))
	var wg sync.WaitGroup
	for i, id := range pageIDs {
		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			item, err := e.source.FetchItem(ctx, id)
			if err != nil {
				e.log.WithError(err).WithField("id", id).Warn("Failed to fetch story; skipping")
				return
			}
			items[i] = item
		}(i, id)
	}
	wg.Wait()

	now := e.clock()
	for _, item := range items {
		if item == nil {
			continue
		}
		stories = append(stories, ToStory(*item, now))
	}

	e.log.WithFields(logrus.Fields{
		"topic": topic,
		"page":  page,
		"count": len(stories),
	}).Debug("Fetched stories")

	return stories, nil
}

// GetUser fetches a user. Returns nil when the user does not exist.
func (e *Engine) GetUser(ctx context.Context, id string) (*models.User, error) {
	raw, err := e.source.FetchUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	return &models.User{
		ID:          raw.ID,
		About:       raw.About,
		CreatedTime: raw.Created,
		Created:     timeAgo(raw.Created, e.clock()),
		Karma:       raw.Karma,
	}, nil
}
