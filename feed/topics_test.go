package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTopic(t *testing.T) {
	for _, topic := range Topics() {
		parsed, ok := ParseTopic(string(topic))
		assert.True(t, ok)
		assert.Equal(t, topic, parsed)
		assert.NotEmpty(t, parsed.List())
		assert.Positive(t, parsed.MaxPages())
	}

	lists := map[string]Topic{
		"topstories":  TopicNews,
		"newstories":  TopicNewest,
		"beststories": TopicBest,
		"jobstories":  TopicJobs,
	}
	for list, want := range lists {
		parsed, ok := ParseTopic(list)
		assert.True(t, ok, list)
		assert.Equal(t, want, parsed)
	}

	for _, name := range []string{"", "active", "News", "TopStories", "stories", "constructor"} {
		_, ok := ParseTopic(name)
		assert.False(t, ok, "topic %q should be rejected", name)
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		page  int
		want  int
	}{
		{name: "Zero", topic: TopicNews, page: 0, want: 1},
		{name: "Negative", topic: TopicNews, page: -4, want: 1},
		{name: "In range", topic: TopicNews, page: 4, want: 4},
		{name: "Last page", topic: TopicNewest, page: 12, want: 12},
		{name: "Past the end", topic: TopicShow, page: 3, want: 2},
		{name: "Jobs has one page", topic: TopicJobs, page: 9, want: 1},
		{name: "Best", topic: TopicBest, page: 8, want: 7},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClampPage(tc.topic, tc.page))
		})
	}
}
