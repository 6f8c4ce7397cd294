// Package api is the read-only JSON facade over the query layer. Every API
// response uses the {success, data, error} envelope; validation failures map
// to 400, absent entities to 404, anything else to 500.
package api

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/harlog"
	"github.com/projectpumpkin/pumpkin/internal/metrics"
	"github.com/projectpumpkin/pumpkin/internal/querycache"
	"github.com/projectpumpkin/pumpkin/internal/store"
)

// Queries is the read surface the handlers need from the data store.
type Queries interface {
	Ping(ctx context.Context) error
	GetLatestRun(ctx context.Context) (*store.LatestRun, error)
	ListRuns(ctx context.Context, limit int) ([]*store.RunSummary, error)
	GetRun(ctx context.Context, id int64) (*store.RunSummary, error)
	ListUrlTestsForRun(ctx context.Context, runID int64) ([]*store.UrlTestSummary, error)
	GetUrlTest(ctx context.Context, id int64) (*store.UrlTestDetail, error)
	ListSlowestInLatest(ctx context.Context, limit int) ([]*store.UrlTestSummary, error)
	ListFastestInLatest(ctx context.Context, limit int) ([]*store.UrlTestSummary, error)
	ListTestsWithErrors(ctx context.Context, limit int) ([]*store.UrlTestSummary, error)
	DomainTrend(ctx context.Context, host string, limit int) ([]*store.UrlTestSummary, error)
	UrlAutocomplete(ctx context.Context, prefix string, limit int) ([]string, error)
	TestsForUrl(ctx context.Context, host string, limit int) ([]*store.UrlTestSummary, error)
	DailyAverageLoadTime(ctx context.Context, host string, days int, tz string) ([]*store.DailyAverage, error)
	AvailableDates(ctx context.Context) ([]string, error)
	RunsByDate(ctx context.Context, date string) ([]*store.RunSummary, error)
}

// Server routes API, health, dashboard, and artifact requests.
type Server struct {
	queries   Queries
	cache     *querycache.Cache
	analyzer  *harlog.Analyzer
	collector *metrics.Collector
	logger    *zap.Logger

	dashboard fasthttp.RequestHandler
	artifacts fasthttp.RequestHandler
}

// NewServer wires the handler graph. dashboardRoot and artifactRoot are
// directories served as static files; either may be empty to disable that
// surface.
func NewServer(queries Queries, cache *querycache.Cache, collector *metrics.Collector,
	dashboardRoot, artifactRoot string, logger *zap.Logger) *Server {
	s := &Server{
		queries:   queries,
		cache:     cache,
		analyzer:  harlog.NewAnalyzer(logger),
		collector: collector,
		logger:    logger,
	}

	if dashboardRoot != "" {
		fs := &fasthttp.FS{
			Root:            dashboardRoot,
			IndexNames:      []string{"index.html"},
			Compress:        true,
			AcceptByteRange: true,
		}
		s.dashboard = fs.NewRequestHandler()
	}
	if artifactRoot != "" {
		fs := &fasthttp.FS{
			Root:               artifactRoot,
			Compress:           false,
			AcceptByteRange:    true,
			PathRewrite:        fasthttp.NewPathSlashesStripper(1),
			GenerateIndexPages: false,
		}
		s.artifacts = fs.NewRequestHandler()
	}
	return s
}

// Handler returns the root request handler with routing.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())

		// Container deployments mount the app under /app; the public
		// surface is the same either way.
		if strings.HasPrefix(path, "/app/") {
			path = strings.TrimPrefix(path, "/app")
		}

		switch {
		case path == "/health":
			s.handleHealth(ctx)
		case strings.HasPrefix(path, "/api/"):
			if !ctx.IsGet() {
				s.writeError(ctx, path, fasthttp.StatusMethodNotAllowed, "method not allowed")
				return
			}
			s.routeAPI(ctx, strings.TrimPrefix(path, "/api/"))
		case strings.HasPrefix(path, "/test-history/"):
			if s.artifacts == nil {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			ctx.URI().SetPath(path)
			s.artifacts(ctx)
		default:
			if s.dashboard == nil {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				return
			}
			ctx.URI().SetPath(path)
			s.dashboard(ctx)
		}
	}
}

// NewHTTPServer wraps the handler in a configured fasthttp server.
func (s *Server) NewHTTPServer() *fasthttp.Server {
	return &fasthttp.Server{
		Handler:      s.Handler(),
		Name:         "Pumpkin-API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// routeAPI dispatches /api/ requests by path segments.
func (s *Server) routeAPI(ctx *fasthttp.RequestCtx, rest string) {
	seg := strings.Split(strings.TrimSuffix(rest, "/"), "/")

	switch seg[0] {
	case "runs":
		s.routeRuns(ctx, seg[1:])
	case "tests":
		s.routeTests(ctx, seg[1:])
	case "stats":
		s.routeStats(ctx, seg[1:])
	case "calendar":
		s.routeCalendar(ctx, seg[1:])
	case "urls":
		s.routeUrls(ctx, seg[1:])
	default:
		s.writeError(ctx, "/api/"+rest, fasthttp.StatusNotFound, "unknown endpoint")
	}
}
