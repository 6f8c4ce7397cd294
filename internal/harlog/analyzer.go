package harlog

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// Analysis is the post-processing result for one recorded HAR.
type Analysis struct {
	// HTTPResponseCodes maps the decimal status code string to its
	// occurrence count across all entries.
	HTTPResponseCodes map[string]int

	// FailedRequests lists entries with status >= 400, ordered by status
	// code ascending, then by HAR entry order.
	FailedRequests []types.FailedRequest
}

// Analyzer derives response-code histograms and failed-request inventories
// from HAR files. Parsing is total: malformed or unreadable input yields an
// empty analysis, never an error that aborts ingest.
type Analyzer struct {
	logger *zap.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// AnalyzeFile reads and analyzes the HAR at path. Gzip-compressed files are
// detected by magic bytes and decompressed transparently.
func (a *Analyzer) AnalyzeFile(path string) *Analysis {
	data, err := os.ReadFile(path)
	if err != nil {
		a.logger.Warn("HAR file unreadable, analysis is empty",
			zap.String("path", path),
			zap.Error(err))
		return emptyAnalysis()
	}
	return a.Analyze(data)
}

// Analyze parses raw HAR bytes and derives the analysis. Any parse failure
// degrades to an empty result.
func (a *Analyzer) Analyze(data []byte) *Analysis {
	if isGzip(data) {
		decompressed, err := gunzipBytes(data)
		if err != nil {
			a.logger.Warn("HAR gzip decompression failed, analysis is empty",
				zap.Error(err))
			return emptyAnalysis()
		}
		data = decompressed
	}

	var har HAR
	if err := json.Unmarshal(data, &har); err != nil {
		a.logger.Warn("HAR parse failed, analysis is empty", zap.Error(err))
		return emptyAnalysis()
	}

	return analyzeEntries(har.Log.Entries)
}

func analyzeEntries(entries []Entry) *Analysis {
	out := emptyAnalysis()

	type indexedFailure struct {
		fr    types.FailedRequest
		order int
	}
	var failures []indexedFailure

	for i, entry := range entries {
		status := entry.Response.Status
		if status <= 0 {
			continue
		}
		out.HTTPResponseCodes[strconv.Itoa(status)]++

		if status >= 400 {
			failures = append(failures, indexedFailure{
				fr: types.FailedRequest{
					RequestURL: entry.Request.URL,
					StatusCode: status,
					Category:   types.CategoryForStatus(status),
				},
				order: i,
			})
		}
	}

	sort.SliceStable(failures, func(i, j int) bool {
		if failures[i].fr.StatusCode != failures[j].fr.StatusCode {
			return failures[i].fr.StatusCode < failures[j].fr.StatusCode
		}
		return failures[i].order < failures[j].order
	})
	for _, f := range failures {
		out.FailedRequests = append(out.FailedRequests, f.fr)
	}

	return out
}

func emptyAnalysis() *Analysis {
	return &Analysis{HTTPResponseCodes: make(map[string]int)}
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
