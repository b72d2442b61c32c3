package feed

// PageSize is the number of stories in a single topic page
const PageSize = 30

// Topic is a named story listing
type Topic string

const (
	TopicNews   Topic = "news"
	TopicNewest Topic = "newest"
	TopicAsk    Topic = "ask"
	TopicShow   Topic = "show"
	TopicJobs   Topic = "jobs"
	TopicBest   Topic = "best"
)

// Topics returns every supported topic in publishing order
func Topics() []Topic {
	return []Topic{TopicNews, TopicNewest, TopicAsk, TopicShow, TopicJobs, TopicBest}
}

// ParseTopic resolves a topic by its name ("news") or by the upstream
// list behind it ("topstories"). Unknown names are rejected.
func ParseTopic(name string) (Topic, bool) {
	for _, topic := range Topics() {
		if string(topic) == name || topic.List() == name {
			return topic, true
		}
	}
	return "", false
}

// List returns the upstream id list backing the topic
func (t Topic) List() string {
	switch t {
	case TopicNews:
		return "topstories"
	case TopicNewest:
		return "newstories"
	case TopicAsk:
		return "askstories"
	case TopicShow:
		return "showstories"
	case TopicJobs:
		return "jobstories"
	case TopicBest:
		return "beststories"
	}
	return ""
}

// MaxPages returns the number of pages published for the topic
func (t Topic) MaxPages() int {
	switch t {
	case TopicNews:
		return 10
	case TopicNewest:
		return 12
	case TopicAsk:
		return 3
	case TopicShow:
		return 2
	case TopicJobs:
		return 1
	case TopicBest:
		return 7
	}
	return 0
}

// ClampPage clamps a 1-based page number into the topic's page range
func ClampPage(t Topic, page int) int {
	if page < 1 {
		return 1
	}
	if maxPage := t.MaxPages(); maxPage > 0 && page > maxPage {
		return maxPage
	}
	return page
}
