package feed

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"github.com/brettboylen/hnpwa-feed/models"
)

const deletedContent = "[deleted]"

var (
	closingParagraph = regexp.MustCompile(`(?i)</p>`)
	openingParagraph = regexp.MustCompile(`(?i)^<p>`)
	askTitle         = regexp.MustCompile(`(?i)^ask`)
)

// Flatten converts a fetched tree into its display shape, recomputing
// comments_count from the tree itself rather than the upstream descendants.
func Flatten(tree *models.ItemTree, now time.Time) models.Item {
	return flattener{now: now}.flatten(tree)
}

// ToStory maps a single listing item into its display summary.
// comments_count is taken from the upstream descendants field.
func ToStory(item models.RawItem, now time.Time) models.Story {
	link, domain := parseURL(item)
	points, user := byline(item)

	return models.Story{
		ID:            item.ID,
		Title:         item.Title,
		Points:        points,
		User:          user,
		Time:          item.Time,
		TimeAgo:       timeAgo(item.Time, now),
		CommentsCount: item.Descendants,
		Type:          displayType(item),
		URL:           link,
		Domain:        domain,
	}
}

type flattener struct {
	now    time.Time
	policy *bluemonday.Policy
}

func (f flattener) flatten(tree *models.ItemTree) models.Item {
	root := f.transform(tree, 0)
	root.Level = nil
	root.Comments = f.recurse(tree, 0)
	root.CommentsCount = countComments(root.Comments)
	return root
}

// recurse maps the non-nil children of tree, aggregating counts bottom-up
func (f flattener) recurse(tree *models.ItemTree, level int) []models.Item {
	items := make([]models.Item, 0, len(tree.Comments))
	for _, child := range tree.Comments {
		if child == nil {
			continue
		}
		mapped := f.transform(child, level)
		mapped.Comments = f.recurse(child, level+1)
		mapped.CommentsCount = countComments(mapped.Comments)
		items = append(items, mapped)
	}
	return items
}

// transform maps a single node into a display item with no comments
func (f flattener) transform(tree *models.ItemTree, level int) models.Item {
	item := tree.Item
	link, domain := parseURL(item)
	points, user := byline(item)

	content := deletedContent
	if !item.Deleted {
		content = cleanText(item.Text)
		if f.policy != nil && content != "" {
			content = f.policy.Sanitize(content)
		}
	}

	var parts []models.RawItem
	if len(tree.Parts) > 0 {
		parts = make([]models.RawItem, len(tree.Parts))
		copy(parts, tree.Parts)
	}

	lvl := level
	return models.Item{
		ID:            item.ID,
		Title:         item.Title,
		Points:        points,
		User:          user,
		Time:          item.Time,
		TimeAgo:       timeAgo(item.Time, f.now),
		Content:       content,
		Deleted:       item.Deleted,
		Dead:          item.Dead,
		Type:          displayType(item),
		URL:           link,
		Domain:        domain,
		Comments:      []models.Item{},
		Level:         &lvl,
		CommentsCount: 0,
		Parts:         parts,
	}
}

// countComments is the number of direct children plus each child's own count
func countComments(children []models.Item) int {
	count := len(children)
	for _, child := range children {
		count += child.CommentsCount
	}
	return count
}

func cleanText(html string) string {
	if html == "" {
		return ""
	}
	html = closingParagraph.ReplaceAllString(html, "")
	if !openingParagraph.MatchString(html) {
		html = "<p>" + html
	}
	return html
}

// parseURL returns the display url and its domain. Items without a url
// link back to their local discussion page.
func parseURL(item models.RawItem) (string, string) {
	if item.URL == "" {
		return fmt.Sprintf("item?id=%d", item.ID), ""
	}

	u, err := url.Parse(item.URL)
	if err != nil {
		return item.URL, ""
	}
	host := strings.ToLower(u.Hostname())
	return item.URL, strings.TrimPrefix(host, "www.")
}

func byline(item models.RawItem) (*int, *string) {
	if item.Type == "job" {
		return nil, nil
	}
	var points *int
	if item.Score != nil {
		score := *item.Score
		points = &score
	}
	var user *string
	if item.By != "" {
		by := item.By
		user = &by
	}
	return points, user
}

func displayType(item models.RawItem) string {
	if item.Type != "story" {
		return item.Type
	}
	if item.URL == "" && askTitle.MatchString(item.Title) {
		return "ask"
	}
	return "link"
}

func timeAgo(unix int64, now time.Time) string {
	return humanize.RelTime(time.Unix(unix, 0), now, "ago", "from now")
}
