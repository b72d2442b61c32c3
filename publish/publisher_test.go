package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/hnpwa-feed/models"
)

type fakeService struct {
	stories      map[string][]models.Story
	items        map[int]*models.Item
	failing      map[int]bool
	listsFailing bool
}

func (f *fakeService) GetStories(ctx context.Context, topic string, page int) ([]models.Story, error) {
	if f.listsFailing {
		return nil, errors.New("upstream unavailable")
	}
	if page != 1 {
		return []models.Story{}, nil
	}
	return f.stories[topic], nil
}

func (f *fakeService) GetItem(ctx context.Context, id int) (*models.Item, error) {
	if f.failing[id] {
		return nil, errors.New("upstream unavailable")
	}
	return f.items[id], nil
}

type fakeLedger struct {
	mutex    sync.Mutex
	started  []string
	finished []models.PublishRun
	files    []string
}

func (f *fakeLedger) StartRun(run *models.PublishRun) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.started = append(f.started, run.ID)
	return nil
}

func (f *fakeLedger) FinishRun(run *models.PublishRun) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.finished = append(f.finished, *run)
	return nil
}

func (f *fakeLedger) SaveFile(file *models.PublishedFile) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.files = append(f.files, file.Path)
	return nil
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestService() *fakeService {
	return &fakeService{
		stories: map[string][]models.Story{
			"news": {{ID: 1, Title: "One", Type: "link"}, {ID: 2, Title: "Two", Type: "link"}},
			"jobs": {{ID: 3, Title: "Hiring", Type: "job"}},
		},
		items: map[int]*models.Item{
			1: {ID: 1, Title: "One", Type: "link", Comments: []models.Item{}},
		},
	}
}

func readJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestRunOnceWritesSnapshot(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "v0")
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "stale"), 0755))

	ledger := &fakeLedger{}
	publisher := NewPublisher(newTestService(), ledger, dest, 60, newTestLogger())

	run, err := publisher.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)

	var news []models.Story
	readJSON(t, filepath.Join(dest, "news", "1.json"), &news)
	require.Len(t, news, 2)
	assert.Equal(t, 1, news[0].ID)

	var item models.Item
	readJSON(t, filepath.Join(dest, "item", "1.json"), &item)
	assert.Equal(t, "One", item.Title)

	var notFound notFoundPage
	readJSON(t, filepath.Join(dest, "news", "11.json"), &notFound)
	assert.Equal(t, "404", notFound.Status)
	assert.Equal(t, 10, notFound.Max)
	assert.FileExists(t, filepath.Join(dest, "newest", "13.json"))
	assert.FileExists(t, filepath.Join(dest, "jobs", "2.json"))
	assert.FileExists(t, filepath.Join(dest, "jobs", "1.json"))
	assert.FileExists(t, filepath.Join(dest, "best", "8.json"))

	// empty pages and missing items are not written
	assert.NoFileExists(t, filepath.Join(dest, "news", "2.json"))
	assert.NoFileExists(t, filepath.Join(dest, "ask", "1.json"))
	assert.NoFileExists(t, filepath.Join(dest, "item", "2.json"))
	assert.NoDirExists(t, filepath.Join(dest, "stale"))

	// six 404 pages, news/1, jobs/1 and item/1
	assert.Equal(t, 9, run.FilesWritten)
	assert.Len(t, ledger.files, 9)
	assert.Contains(t, ledger.files, "item/1.json")
	require.Len(t, ledger.finished, 1)
	assert.Equal(t, run.ID, ledger.started[0])
	assert.Empty(t, ledger.finished[0].Error)
	assert.NotNil(t, ledger.finished[0].FinishedAt)

	last := publisher.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
}

func TestRunOnceCollectsItemFailures(t *testing.T) {
	service := newTestService()
	service.failing = map[int]bool{2: true}
	dest := filepath.Join(t.TempDir(), "v0")

	publisher := NewPublisher(service, nil, dest, 60, newTestLogger())

	var callbackRun models.PublishRun
	publisher.OnAfterWrite(func(run models.PublishRun) {
		callbackRun = run
	})

	run, err := publisher.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item 2")
	assert.FileExists(t, filepath.Join(dest, "item", "1.json"))
	assert.Equal(t, err.Error(), run.Error)
	assert.Equal(t, run.ID, callbackRun.ID)
}

func TestRunOnceKeepsPreviousSnapshot(t *testing.T) {
	service := newTestService()
	parent := t.TempDir()
	dest := filepath.Join(parent, "v0")
	ledger := &fakeLedger{}
	publisher := NewPublisher(service, ledger, dest, 60, newTestLogger())

	_, err := publisher.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, ledger.files, 9)

	service.listsFailing = true
	run, err := publisher.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptySnapshot)
	assert.Equal(t, 0, run.FilesWritten)
	assert.Len(t, ledger.files, 9)

	var news []models.Story
	readJSON(t, filepath.Join(dest, "news", "1.json"), &news)
	assert.Len(t, news, 2)
	assert.FileExists(t, filepath.Join(dest, "item", "1.json"))

	// the staging directory is gone
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "v0", entries[0].Name())
}

func TestStartStopsOnCancel(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "v0")
	publisher := NewPublisher(newTestService(), nil, dest, 3600, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	written := make(chan struct{}, 1)
	publisher.OnAfterWrite(func(models.PublishRun) {
		written <- struct{}{}
		cancel()
	})

	done := make(chan error, 1)
	go func() { done <- publisher.Start(ctx) }()

	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not write a snapshot")
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
}
