package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/querycache"
	"github.com/projectpumpkin/pumpkin/internal/store"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// envelope is the uniform API response shape.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// healthResponse is the /health body; it deliberately does not use the
// envelope so that probes can parse it without unwrapping.
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resp := healthResponse{Status: "ok", Database: "connected"}
	code := fasthttp.StatusOK

	if err := s.queries.Ping(ctx); err != nil {
		resp = healthResponse{Status: "degraded", Database: "disconnected"}
		code = fasthttp.StatusInternalServerError
		s.logger.Warn("Health check found database unreachable", zap.Error(err))
	}

	body, _ := json.Marshal(resp)
	s.writeRaw(ctx, "/health", code, body)
}

func (s *Server) routeRuns(ctx *fasthttp.RequestCtx, seg []string) {
	switch {
	case len(seg) == 0 || seg[0] == "":
		s.serve(ctx, "/api/runs", []string{"runs", limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.ListRuns(ctx, limit(ctx))
		})
	case seg[0] == "latest" && len(seg) == 1:
		s.serve(ctx, "/api/runs/latest", []string{"runs-latest"}, func() (interface{}, error) {
			return s.queries.GetLatestRun(ctx)
		})
	case len(seg) == 1:
		id, ok := s.parseID(ctx, "/api/runs/{id}", seg[0])
		if !ok {
			return
		}
		s.serve(ctx, "/api/runs/{id}", []string{"run", seg[0]}, func() (interface{}, error) {
			return s.queries.GetRun(ctx, id)
		})
	case len(seg) == 2 && seg[1] == "tests":
		id, ok := s.parseID(ctx, "/api/runs/{id}/tests", seg[0])
		if !ok {
			return
		}
		s.serve(ctx, "/api/runs/{id}/tests", []string{"run-tests", seg[0]}, func() (interface{}, error) {
			return s.queries.ListUrlTestsForRun(ctx, id)
		})
	default:
		s.writeError(ctx, "/api/runs", fasthttp.StatusNotFound, "unknown endpoint")
	}
}

func (s *Server) routeTests(ctx *fasthttp.RequestCtx, seg []string) {
	switch {
	case len(seg) == 1 && seg[0] != "":
		id, ok := s.parseID(ctx, "/api/tests/{id}", seg[0])
		if !ok {
			return
		}
		s.serve(ctx, "/api/tests/{id}", []string{"test", seg[0]}, func() (interface{}, error) {
			return s.queries.GetUrlTest(ctx, id)
		})
	case len(seg) == 2 && seg[1] == "failed-requests":
		id, ok := s.parseID(ctx, "/api/tests/{id}/failed-requests", seg[0])
		if !ok {
			return
		}
		s.serve(ctx, "/api/tests/{id}/failed-requests", []string{"test-failed", seg[0]}, func() (interface{}, error) {
			return s.failedRequests(ctx, id)
		})
	default:
		s.writeError(ctx, "/api/tests", fasthttp.StatusNotFound, "unknown endpoint")
	}
}

// failedRequests derives the failed-request inventory from the stored HAR.
// A test whose HAR is missing or unparseable reports an empty list.
func (s *Server) failedRequests(ctx *fasthttp.RequestCtx, id int64) ([]types.FailedRequest, error) {
	detail, err := s.queries.GetUrlTest(ctx, id)
	if err != nil {
		return nil, err
	}
	analysis := s.analyzer.AnalyzeFile(detail.HARPath)
	if analysis.FailedRequests == nil {
		return []types.FailedRequest{}, nil
	}
	return analysis.FailedRequests, nil
}

func (s *Server) routeStats(ctx *fasthttp.RequestCtx, seg []string) {
	if len(seg) != 1 {
		s.writeError(ctx, "/api/stats", fasthttp.StatusNotFound, "unknown endpoint")
		return
	}
	switch seg[0] {
	case "latest":
		s.serve(ctx, "/api/stats/latest", []string{"stats-latest"}, func() (interface{}, error) {
			return s.queries.GetLatestRun(ctx)
		})
	case "slowest":
		s.serve(ctx, "/api/stats/slowest", []string{"stats-slowest", limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.ListSlowestInLatest(ctx, limit(ctx))
		})
	case "fastest":
		s.serve(ctx, "/api/stats/fastest", []string{"stats-fastest", limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.ListFastestInLatest(ctx, limit(ctx))
		})
	case "errors":
		s.serve(ctx, "/api/stats/errors", []string{"stats-errors", limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.ListTestsWithErrors(ctx, limit(ctx))
		})
	default:
		s.writeError(ctx, "/api/stats", fasthttp.StatusNotFound, "unknown endpoint")
	}
}

func (s *Server) routeCalendar(ctx *fasthttp.RequestCtx, seg []string) {
	if len(seg) != 1 {
		s.writeError(ctx, "/api/calendar", fasthttp.StatusNotFound, "unknown endpoint")
		return
	}
	switch seg[0] {
	case "available-dates":
		s.serve(ctx, "/api/calendar/available-dates", []string{"dates"}, func() (interface{}, error) {
			return s.queries.AvailableDates(ctx)
		})
	case "runs-by-date":
		date := string(ctx.QueryArgs().Peek("date"))
		s.serve(ctx, "/api/calendar/runs-by-date", []string{"runs-by-date", date}, func() (interface{}, error) {
			return s.queries.RunsByDate(ctx, date)
		})
	default:
		s.writeError(ctx, "/api/calendar", fasthttp.StatusNotFound, "unknown endpoint")
	}
}

func (s *Server) routeUrls(ctx *fasthttp.RequestCtx, seg []string) {
	switch {
	case len(seg) == 1 && seg[0] == "autocomplete":
		prefix := string(ctx.QueryArgs().Peek("q"))
		s.serve(ctx, "/api/urls/autocomplete", []string{"autocomplete", prefix, limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.UrlAutocomplete(ctx, prefix, limit(ctx))
		})
	case len(seg) == 2 && seg[1] == "tests":
		host := seg[0]
		s.serve(ctx, "/api/urls/{host}/tests", []string{"url-tests", host, limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.TestsForUrl(ctx, host, limit(ctx))
		})
	case len(seg) == 2 && seg[1] == "trend":
		host := seg[0]
		s.serve(ctx, "/api/urls/{host}/trend", []string{"url-trend", host, limitArg(ctx)}, func() (interface{}, error) {
			return s.queries.DomainTrend(ctx, host, limit(ctx))
		})
	case len(seg) == 2 && seg[1] == "daily-averages":
		host := seg[0]
		days := ctx.QueryArgs().GetUintOrZero("days")
		if days == 0 {
			days = 30
		}
		tz := string(ctx.QueryArgs().Peek("timezone"))
		if tz == "" {
			tz = "UTC"
		}
		s.serve(ctx, "/api/urls/{host}/daily-averages",
			[]string{"daily-avg", host, strconv.Itoa(days), tz}, func() (interface{}, error) {
				return s.queries.DailyAverageLoadTime(ctx, host, days, tz)
			})
	default:
		s.writeError(ctx, "/api/urls", fasthttp.StatusNotFound, "unknown endpoint")
	}
}

// serve runs fetch behind the query cache and writes the envelope. Only
// successful envelopes are cached; errors always hit the query layer again.
func (s *Server) serve(ctx *fasthttp.RequestCtx, endpoint string, keyParts []string, fetch func() (interface{}, error)) {
	body, err := s.cache.GetOrCompute(ctx, querycache.Key(keyParts...), func() ([]byte, error) {
		data, err := fetch()
		if err != nil {
			return nil, err
		}
		return json.Marshal(envelope{Success: true, Data: data})
	})
	if err != nil {
		s.writeQueryError(ctx, endpoint, err)
		return
	}
	s.writeRaw(ctx, endpoint, fasthttp.StatusOK, body)
}

// writeQueryError maps query-layer errors onto HTTP status codes.
func (s *Server) writeQueryError(ctx *fasthttp.RequestCtx, endpoint string, err error) {
	switch {
	case errors.Is(err, store.ErrBadRequest):
		s.writeError(ctx, endpoint, fasthttp.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.writeError(ctx, endpoint, fasthttp.StatusNotFound, "not found")
	default:
		s.logger.Error("Query failed",
			zap.String("endpoint", endpoint),
			zap.Error(err))
		s.writeError(ctx, endpoint, fasthttp.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, endpoint string, code int, message string) {
	body, _ := json.Marshal(envelope{Success: false, Error: message})
	s.writeRaw(ctx, endpoint, code, body)
}

func (s *Server) writeRaw(ctx *fasthttp.RequestCtx, endpoint string, code int, body []byte) {
	ctx.SetStatusCode(code)
	ctx.SetContentType("application/json; charset=utf-8")
	ctx.SetBody(body)
	s.collector.RecordHTTPRequest(endpoint, strconv.Itoa(code))
}

// parseID parses a numeric path segment, writing a 400 on failure.
func (s *Server) parseID(ctx *fasthttp.RequestCtx, endpoint, raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.writeError(ctx, endpoint, fasthttp.StatusBadRequest, fmt.Sprintf("invalid id %q", raw))
		return 0, false
	}
	return id, true
}

// limit reads the ?limit query arg; 0 lets the query layer apply its default.
func limit(ctx *fasthttp.RequestCtx) int {
	return ctx.QueryArgs().GetUintOrZero("limit")
}

func limitArg(ctx *fasthttp.RequestCtx) string {
	return strconv.Itoa(limit(ctx))
}
