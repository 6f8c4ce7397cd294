package harlog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

func harWithStatuses(t *testing.T, statuses ...int) []byte {
	t.Helper()
	har := HAR{Log: Log{Version: "1.2", Creator: Creator{Name: "Pumpkin", Version: "1.0"}}}
	for i, status := range statuses {
		har.Log.Entries = append(har.Log.Entries, Entry{
			Request:  Request{Method: "GET", URL: "https://example.com/r" + string(rune('a'+i))},
			Response: Response{Status: status},
		})
	}
	data, err := json.Marshal(har)
	require.NoError(t, err)
	return data
}

func TestAnalyzeHistogram(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	res := a.Analyze(harWithStatuses(t, 200, 200, 301, 404))
	assert.Equal(t, map[string]int{"200": 2, "301": 1, "404": 1}, res.HTTPResponseCodes)
}

func TestAnalyzeDropsFailedEntries(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	// Status -1 marks requests that failed at the network level and 0
	// marks entries with no response at all. Neither counts.
	res := a.Analyze(harWithStatuses(t, 200, -1, 0))
	assert.Equal(t, map[string]int{"200": 1}, res.HTTPResponseCodes)
	assert.Empty(t, res.FailedRequests)
}

func TestAnalyzeFailedRequests(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	har := HAR{Log: Log{Version: "1.2"}}
	add := func(url string, status int) {
		har.Log.Entries = append(har.Log.Entries, Entry{
			Request:  Request{Method: "GET", URL: url},
			Response: Response{Status: status},
		})
	}
	add("https://example.com/", 200)
	add("https://example.com/style.css", 200)
	add("https://api.example.com/first", 500)
	add("https://example.com/missing.png", 404)
	add("https://api.example.com/second", 500)

	data, err := json.Marshal(har)
	require.NoError(t, err)

	res := a.Analyze(data)
	assert.Equal(t, map[string]int{"200": 2, "404": 1, "500": 2}, res.HTTPResponseCodes)

	// Ordered by status code ascending, ties by HAR entry order.
	require.Len(t, res.FailedRequests, 3)
	assert.Equal(t, types.FailedRequest{
		RequestURL: "https://example.com/missing.png",
		StatusCode: 404,
		Category:   types.CategoryClientError,
	}, res.FailedRequests[0])
	assert.Equal(t, "https://api.example.com/first", res.FailedRequests[1].RequestURL)
	assert.Equal(t, "https://api.example.com/second", res.FailedRequests[2].RequestURL)
	assert.Equal(t, types.CategoryServerError, res.FailedRequests[1].Category)
}

func TestAnalyzeMalformedInput(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	for _, data := range [][]byte{
		nil,
		{},
		[]byte("not json at all"),
		[]byte(`{"log":`),
		[]byte(`{"log":{"entries":"wrong type"}}`),
		{0x1f, 0x8b, 0xff, 0xff},
	} {
		res := a.Analyze(data)
		require.NotNil(t, res)
		assert.Empty(t, res.HTTPResponseCodes)
		assert.Empty(t, res.FailedRequests)
	}
}

func TestAnalyzeGzipped(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(harWithStatuses(t, 200, 404))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	res := a.Analyze(buf.Bytes())
	assert.Equal(t, map[string]int{"200": 1, "404": 1}, res.HTTPResponseCodes)
	require.Len(t, res.FailedRequests, 1)
	assert.Equal(t, 404, res.FailedRequests[0].StatusCode)
}

func TestAnalyzeFile(t *testing.T) {
	a := NewAnalyzer(zap.NewNop())
	path := filepath.Join(t.TempDir(), "network.har")
	require.NoError(t, os.WriteFile(path, harWithStatuses(t, 200, 503), 0o644))

	res := a.AnalyzeFile(path)
	assert.Equal(t, map[string]int{"200": 1, "503": 1}, res.HTTPResponseCodes)

	missing := a.AnalyzeFile(filepath.Join(t.TempDir(), "absent.har"))
	assert.Empty(t, missing.HTTPResponseCodes)
}
