package server

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brettboylen/hnpwa-feed/feed"
	"github.com/brettboylen/hnpwa-feed/models"
)

const (
	hnBaseURL       = "https://news.ycombinator.com/"
	defaultRunLimit = 20
)

var (
	jsonpCallback = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)
	userID        = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Service is the read contract the HTTP layer exposes
type Service interface {
	GetItem(ctx context.Context, id int) (*models.Item, error)
	GetStories(ctx context.Context, topic string, page int) ([]models.Story, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// RunLister lists recorded snapshot runs
type RunLister interface {
	GetRecentRuns(limit int) ([]models.PublishRun, error)
	GetRunFiles(runID string) ([]models.PublishedFile, error)
}

// Options configures the HTTP layer
type Options struct {
	Name                 string
	Version              string
	RouterPath           string
	UseCors              bool
	MaxRequestsPerMinute int
	BrowserExpiry        int
	CDNExpiry            int
	StaleWhileRevalidate int
}

type handler struct {
	service Service
	runs    RunLister
	opts    Options
	log     *logrus.Logger
}

// New builds the echo instance serving the feed. runs may be nil.
func New(service Service, runs RunLister, opts Options, log *logrus.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// middleware
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.Gzip())
	if opts.UseCors {
		e.Use(middleware.CORS())
	}
	e.Use(rateLimiter(opts.MaxRequestsPerMinute))

	h := &handler{service: service, runs: runs, opts: opts, log: log}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	g := e.Group(opts.RouterPath, cacheControl(opts))
	g.GET("", h.index)
	g.GET("/", h.index)
	for _, topic := range feed.Topics() {
		g.GET("/"+string(topic)+".json", h.stories(topic))
		g.GET("/"+string(topic)+".rss", h.rss(topic))
	}
	g.GET("/item/:id", h.item)
	g.GET("/user/:id", h.user)

	e.GET(opts.RouterPath+"/api/publish/runs", h.publishRuns)
	e.GET(opts.RouterPath+"/api/publish/runs/:id/files", h.publishRunFiles)

	return e
}

// rateLimiter limits each client IP to maxRequestsPerMinute
func rateLimiter(maxRequestsPerMinute int) echo.MiddlewareFunc {
	requestsPerSecond := float64(maxRequestsPerMinute) / 60.0
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(requestsPerSecond),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{
				"error": "Unable to identify client",
			})
		},
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Rate limit exceeded, please try again later",
			})
		},
	})
}

func cacheControl(opts Options) echo.MiddlewareFunc {
	value := fmt.Sprintf("public, max-age=%d, s-maxage=%d, stale-while-revalidate=%d",
		opts.BrowserExpiry, opts.CDNExpiry, opts.StaleWhileRevalidate)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Response().Header().Set("Cache-Control", value)
			return next(c)
		}
	}
}

func (h *handler) index(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":    h.opts.Name,
		"version": h.opts.Version,
		"topics":  feed.Topics(),
	})
}

func (h *handler) stories(topic feed.Topic) echo.HandlerFunc {
	return func(c echo.Context) error {
		page, _ := strconv.Atoi(c.QueryParam("page"))
		page = feed.ClampPage(topic, page)

		stories, err := h.service.GetStories(c.Request().Context(), string(topic), page)
		if err != nil {
			return h.upstreamError(c, err)
		}

		return h.respond(c, stories)
	}
}

func (h *handler) rss(topic feed.Topic) echo.HandlerFunc {
	return func(c echo.Context) error {
		stories, err := h.service.GetStories(c.Request().Context(), string(topic), 1)
		if err != nil {
			return h.upstreamError(c, err)
		}

		rss, err := storiesFeed(h.opts.Name, topic, stories, time.Now()).ToRss()
		if err != nil {
			return fmt.Errorf("failed to render %s feed: %w", topic, err)
		}

		return c.Blob(http.StatusOK, "application/rss+xml; charset=UTF-8", []byte(rss))
	}
}

func (h *handler) item(c echo.Context) error {
	id, err := strconv.Atoi(strings.TrimSuffix(c.Param("id"), ".json"))
	if err != nil || id < 1 {
		return notFound(c, "Item not found")
	}

	item, err := h.service.GetItem(c.Request().Context(), id)
	if err != nil {
		return h.upstreamError(c, err)
	}
	if item == nil {
		return notFound(c, fmt.Sprintf("Item %d not found", id))
	}

	return h.respond(c, item)
}

func (h *handler) user(c echo.Context) error {
	id := strings.TrimSuffix(c.Param("id"), ".json")
	if !userID.MatchString(id) {
		return notFound(c, "User not found")
	}

	user, err := h.service.GetUser(c.Request().Context(), id)
	if err != nil {
		return h.upstreamError(c, err)
	}
	if user == nil {
		return notFound(c, fmt.Sprintf("User %s not found", id))
	}

	return h.respond(c, user)
}

func (h *handler) publishRuns(c echo.Context) error {
	if h.runs == nil {
		return notFound(c, "Publishing is not enabled")
	}

	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit < 1 {
		limit = defaultRunLimit
	}

	runs, err := h.runs.GetRecentRuns(limit)
	if err != nil {
		return fmt.Errorf("failed to list publish runs: %w", err)
	}

	return c.JSON(http.StatusOK, runs)
}

func (h *handler) publishRunFiles(c echo.Context) error {
	if h.runs == nil {
		return notFound(c, "Publishing is not enabled")
	}

	files, err := h.runs.GetRunFiles(c.Param("id"))
	if err != nil {
		return fmt.Errorf("failed to list files for run %s: %w", c.Param("id"), err)
	}
	if len(files) == 0 {
		return notFound(c, fmt.Sprintf("Run %s not found", c.Param("id")))
	}

	return c.JSON(http.StatusOK, files)
}

// respond writes JSON, or JSONP when a valid callback parameter is given
func (h *handler) respond(c echo.Context, v interface{}) error {
	if callback := c.QueryParam("callback"); callback != "" && jsonpCallback.MatchString(callback) {
		return c.JSONP(http.StatusOK, callback, v)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *handler) upstreamError(c echo.Context, err error) error {
	h.log.WithError(err).WithField("path", c.Request().URL.Path).Error("Upstream request failed")
	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "Upstream Hacker News API request failed",
	})
}

func notFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, map[string]string{
		"status":  "404",
		"message": message,
	})
}

// storiesFeed renders a topic page as an RSS feed, one entry per story
func storiesFeed(name string, topic feed.Topic, stories []models.Story, now time.Time) *feeds.Feed {
	f := &feeds.Feed{
		Title:       fmt.Sprintf("%s: %s", name, topic),
		Link:        &feeds.Link{Href: hnBaseURL + string(topic)},
		Description: fmt.Sprintf("Hacker News %s stories", topic),
		Created:     now,
	}

	for _, story := range stories {
		item := &feeds.Item{
			Id:          strconv.Itoa(story.ID),
			Title:       story.Title,
			Link:        &feeds.Link{Href: absoluteURL(story.URL)},
			Description: storySummary(story),
			Created:     time.Unix(story.Time, 0),
		}
		if story.User != nil {
			item.Author = &feeds.Author{Name: *story.User}
		}
		f.Items = append(f.Items, item)
	}

	return f
}

func storySummary(story models.Story) string {
	comments := fmt.Sprintf(`<a href="%sitem?id=%d">%d comments</a>`, hnBaseURL, story.ID, story.CommentsCount)
	if story.Points == nil {
		return comments
	}
	return fmt.Sprintf("%d points | %s", *story.Points, comments)
}

// absoluteURL resolves local item links against news.ycombinator.com
func absoluteURL(link string) string {
	if strings.HasPrefix(link, "item?id=") {
		return hnBaseURL + link
	}
	return link
}
