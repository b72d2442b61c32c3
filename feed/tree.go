package feed

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/models"
)

// FetchTree fetches an item and, recursively, every item below it.
// Returns nil when the root does not exist. Failures below the root
// never fail the tree; the affected slot is left nil instead.
func (e *Engine) FetchTree(ctx context.Context, id int) (*models.ItemTree, error) {
	return e.fetchTree(ctx, id, nil)
}

// fetchTree carries the ids of the current branch so a node that lists
// one of its own ancestors as a kid cannot recurse forever.
func (e *Engine) fetchTree(ctx context.Context, id int, ancestors []int) (*models.ItemTree, error) {
	item, err := e.source.FetchItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	path := append(ancestors[:len(ancestors):len(ancestors)], id)

	tree := &models.ItemTree{
		Item:     *item,
		Comments: []*models.ItemTree{},
	}
	tree.Item.Kids = nil
	tree.Item.Parts = nil

	if len(item.Kids) > 0 {
		tree.Comments = e.fetchChildren(ctx, item.Kids, path)
	}

	// poll options carry no separate comment thread, keep the option items only
	if item.Type == "poll" && len(item.Parts) > 0 {
		for _, part := range e.fetchChildren(ctx, item.Parts, path) {
			if part != nil {
				tree.Parts = append(tree.Parts, part.Item)
			}
		}
	}

	return tree, nil
}

// fetchChildren fetches every id concurrently. Result i belongs to ids[i].
func (e *Engine) fetchChildren(ctx context.Context, ids []int, path []int) []*models.ItemTree {
	results := make([]*models.ItemTree, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		if containsID(path, id) {
			e.log.WithFields(logrus.Fields{
				"id":     id,
				"parent": path[len(path)-1],
			}).Warn("Item lists one of its ancestors as a child; skipping")
			continue
		}

		wg.Add(1)
		go func(i, id int) {
			defer wg.Done()
			tree, err := e.fetchTree(ctx, id, path)
			if err != nil {
				e.log.WithError(err).WithField("id", id).Warn("Failed to fetch child item; skipping")
				return
			}
			results[i] = tree
		}(i, id)
	}
	wg.Wait()

	return results
}

func containsID(ids []int, id int) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
