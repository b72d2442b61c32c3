package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/hnpwa-feed/feed"
	"github.com/brettboylen/hnpwa-feed/models"
)

// defaultInterval is the snapshot interval in seconds
const defaultInterval = 300

// ErrEmptySnapshot is returned when a run fetched no topic page at all
var ErrEmptySnapshot = errors.New("snapshot has no topic pages, keeping the previous one")

var (
	publishRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hnfeed_publish_runs_total",
		Help: "Snapshot runs, by outcome.",
	}, []string{"outcome"})

	publishedFiles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hnfeed_published_files_total",
		Help: "Files written by snapshot runs.",
	})
)

// Service is the subset of the feed engine the publisher needs
type Service interface {
	GetItem(ctx context.Context, id int) (*models.Item, error)
	GetStories(ctx context.Context, topic string, page int) ([]models.Story, error)
}

// Ledger records runs and the files they write
type Ledger interface {
	StartRun(run *models.PublishRun) error
	FinishRun(run *models.PublishRun) error
	SaveFile(file *models.PublishedFile) error
}

// notFoundPage is written one page past the last page of every topic
type notFoundPage struct {
	Status  string `json:"status"`
	Max     int    `json:"max"`
	Message string `json:"message"`
}

// Publisher periodically writes a static snapshot of every topic and
// of every item on the news topic
type Publisher struct {
	service    Service
	ledger     Ledger
	dest       string
	interval   time.Duration
	afterWrite func(models.PublishRun)
	lastRun    *models.PublishRun
	log        *logrus.Logger
	mutex      sync.RWMutex
}

// NewPublisher creates a new publisher. ledger may be nil.
func NewPublisher(service Service, ledger Ledger, dest string, interval int, log *logrus.Logger) *Publisher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Publisher{
		service:  service,
		ledger:   ledger,
		dest:     dest,
		interval: time.Duration(interval) * time.Second,
		log:      log,
	}
}

// OnAfterWrite registers a callback fired after each completed run
func (p *Publisher) OnAfterWrite(fn func(models.PublishRun)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.afterWrite = fn
}

// LastRun returns a copy of the most recent run, or nil before the first one
func (p *Publisher) LastRun() *models.PublishRun {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if p.lastRun == nil {
		return nil
	}
	run := *p.lastRun
	return &run
}

// Start writes a snapshot immediately and then once per interval until ctx is done
func (p *Publisher) Start(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"dest":         p.dest,
		"interval_sec": p.interval.Seconds(),
	}).Info("Starting snapshot publisher")

	if _, err := p.RunOnce(ctx); err != nil {
		p.log.WithError(err).Error("Snapshot run failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.log.WithError(err).Error("Snapshot run failed")
			}
		}
	}
}

// RunOnce builds a complete snapshot next to the destination directory and
// swaps it into place. Failures of single pages or items are collected and
// returned together after the rest of the snapshot has been written. A run
// that produced no topic page at all leaves the previous snapshot untouched.
func (p *Publisher) RunOnce(ctx context.Context) (*models.PublishRun, error) {
	run := &models.PublishRun{
		ID:        uuid.NewString(),
		Dest:      p.dest,
		StartedAt: time.Now(),
	}
	log := p.log.WithField("run_id", run.ID)
	log.Info("Writing snapshot")

	if p.ledger != nil {
		if err := p.ledger.StartRun(run); err != nil {
			log.WithError(err).Warn("Failed to record run start")
		}
	}

	w := &runWriter{publisher: p, run: run, root: stagingDir(p.dest, run.ID), log: log}

	err := w.createFolderStructure()
	if err == nil {
		stories := w.writeTopics(ctx)
		w.writeItems(ctx, stories)
		err = errors.Join(w.errs...)

		if w.pages == 0 {
			err = errors.Join(ErrEmptySnapshot, err)
			w.discard()
		} else if perr := w.promote(); perr != nil {
			err = errors.Join(err, perr)
		}
	} else {
		w.discard()
	}

	finished := time.Now()
	run.FinishedAt = &finished
	run.FilesWritten = len(w.published)
	if err != nil {
		run.Error = err.Error()
		publishRuns.WithLabelValues("error").Inc()
	} else {
		publishRuns.WithLabelValues("ok").Inc()
	}

	if p.ledger != nil {
		if lerr := p.ledger.FinishRun(run); lerr != nil {
			log.WithError(lerr).Warn("Failed to record run result")
		}
	}

	p.mutex.Lock()
	last := *run
	p.lastRun = &last
	afterWrite := p.afterWrite
	p.mutex.Unlock()

	log.WithFields(logrus.Fields{
		"files_written": run.FilesWritten,
		"duration":      finished.Sub(run.StartedAt).String(),
	}).Info("Snapshot written")

	if afterWrite != nil {
		afterWrite(*run)
	}

	return run, err
}

// stagingDir is a hidden sibling of dest, so the final rename stays on one filesystem
func stagingDir(dest, runID string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+"-"+runID)
}

// runWriter holds the state of a single snapshot run
type runWriter struct {
	publisher *Publisher
	run       *models.PublishRun
	root      string
	log       *logrus.Entry

	mutex     sync.Mutex
	pages     int
	written   []models.PublishedFile
	published []models.PublishedFile
	errs      []error
}

// createFolderStructure creates the staging tree:
//
//	<root>/<topic>/<max+1>.json
//	<root>/item/
func (w *runWriter) createFolderStructure() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("failed to clear %s: %w", w.root, err)
	}

	for _, topic := range feed.Topics() {
		if err := os.MkdirAll(filepath.Join(w.root, string(topic)), 0755); err != nil {
			return fmt.Errorf("failed to create topic directory: %w", err)
		}

		maxPage := topic.MaxPages()
		page := notFoundPage{
			Status:  "404",
			Max:     maxPage,
			Message: fmt.Sprintf("Page not found. Maximum page number is %d", maxPage),
		}
		if err := w.writeJSON(filepath.Join(string(topic), strconv.Itoa(maxPage+1)+".json"), page); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Join(w.root, "item"), 0755); err != nil {
		return fmt.Errorf("failed to create item directory: %w", err)
	}

	return nil
}

// writeTopics writes every page of every topic and returns the news stories
func (w *runWriter) writeTopics(ctx context.Context) []models.Story {
	var wg sync.WaitGroup
	var news []models.Story

	for _, topic := range feed.Topics() {
		wg.Add(1)
		go func(topic feed.Topic) {
			defer wg.Done()

			stories := w.writeTopic(ctx, topic)
			if topic == feed.TopicNews {
				news = stories
			}
		}(topic)
	}

	wg.Wait()
	return news
}

func (w *runWriter) writeTopic(ctx context.Context, topic feed.Topic) []models.Story {
	all := make([]models.Story, 0, topic.MaxPages()*feed.PageSize)

	for page := 1; page <= topic.MaxPages(); page++ {
		stories, err := w.publisher.service.GetStories(ctx, string(topic), page)
		if err != nil {
			w.fail(fmt.Errorf("failed to fetch %s page %d: %w", topic, page, err))
			continue
		}
		if len(stories) == 0 {
			continue
		}

		path := filepath.Join(string(topic), strconv.Itoa(page)+".json")
		if err := w.writeJSON(path, stories); err != nil {
			w.fail(err)
			continue
		}

		w.mutex.Lock()
		w.pages++
		w.mutex.Unlock()
		all = append(all, stories...)
	}

	w.log.WithFields(logrus.Fields{
		"topic":   topic,
		"stories": len(all),
	}).Debug("Wrote topic")

	return all
}

// writeItems fetches and writes the full comment tree of every story
func (w *runWriter) writeItems(ctx context.Context, stories []models.Story) {
	var wg sync.WaitGroup

	for _, story := range stories {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			item, err := w.publisher.service.GetItem(ctx, id)
			if err != nil {
				w.fail(fmt.Errorf("failed to fetch item %d: %w", id, err))
				return
			}
			if item == nil {
				return
			}

			if err := w.writeJSON(filepath.Join("item", strconv.Itoa(item.ID)+".json"), item); err != nil {
				w.fail(err)
			}
		}(story.ID)
	}

	wg.Wait()
}

// writeJSON writes v to a path relative to the staging root
func (w *runWriter) writeJSON(rel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rel, err)
	}

	path := filepath.Join(w.root, rel)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	w.mutex.Lock()
	w.written = append(w.written, models.PublishedFile{
		RunID:     w.run.ID,
		Path:      filepath.ToSlash(rel),
		Bytes:     len(data),
		WrittenAt: time.Now(),
	})
	w.mutex.Unlock()

	w.log.WithField("path", path).Debug("Wrote file")
	return nil
}

// promote replaces the live snapshot with the staging tree and records its files
func (w *runWriter) promote() error {
	dest := w.publisher.dest

	if err := os.RemoveAll(dest); err != nil {
		w.discard()
		return fmt.Errorf("failed to clear %s: %w", dest, err)
	}
	if err := os.Rename(w.root, dest); err != nil {
		w.discard()
		return fmt.Errorf("failed to move snapshot into %s: %w", dest, err)
	}

	w.published = w.written
	publishedFiles.Add(float64(len(w.published)))

	if w.publisher.ledger != nil {
		for i := range w.published {
			if err := w.publisher.ledger.SaveFile(&w.published[i]); err != nil {
				w.log.WithError(err).WithField("path", w.published[i].Path).Warn("Failed to record file")
			}
		}
	}

	return nil
}

// discard drops the staging tree
func (w *runWriter) discard() {
	if err := os.RemoveAll(w.root); err != nil {
		w.log.WithError(err).WithField("path", w.root).Warn("Failed to remove staging directory")
	}
}

func (w *runWriter) fail(err error) {
	w.log.WithError(err).Error("Snapshot step failed")

	w.mutex.Lock()
	w.errs = append(w.errs, err)
	w.mutex.Unlock()
}
