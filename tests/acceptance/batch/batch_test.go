package batch_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/internal/harlog"
	"github.com/projectpumpkin/pumpkin/internal/scheduler"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// scriptedDriver performs the filesystem side of a real measurement (HAR
// and screenshot written through the artifact store) and returns scripted
// per-URL results.
type scriptedDriver struct {
	results map[string]scriptedResult
}

type scriptedResult struct {
	status    types.TestStatus
	pageTitle string
	dnsMs     float64
	ttfbMs    float64
	loadMs    float64
	transfer  int64
	byType    map[string]int
	harCodes  []int // one HAR entry per status code
}

func (d *scriptedDriver) Measure(ctx context.Context, url string, td *artifact.TestDir, store *artifact.Store) (*types.TestMeasurement, error) {
	r := d.results[url]

	collector := harlog.NewCollector(url)
	base := time.Now().Add(-2 * time.Second)
	for i, code := range r.harCodes {
		id := fmt.Sprintf("req-%d", i)
		sent := base.Add(time.Duration(i) * time.Millisecond)
		collector.OnRequestWillBeSent(id, fmt.Sprintf("%s/asset-%d", url, i), "GET", nil, sent)
		collector.OnResponseReceived(id, code, "", nil, "text/html", nil, "http/1.1")
		collector.OnLoadingFinished(id, 1000, sent.Add(50*time.Millisecond))
	}
	collector.SetPageTitle(r.pageTitle)
	harData, err := collector.ToJSON("HeadlessChrome/120.0", "120.0")
	if err != nil {
		return nil, err
	}
	if err := store.WriteHAR(td.HARPath, harData); err != nil {
		return nil, err
	}
	if err := store.WriteScreenshot(td.ScreenshotPath, []byte("png-bytes")); err != nil {
		return nil, err
	}

	m := &types.TestMeasurement{
		URL:            url,
		Domain:         "example.com",
		Status:         r.status,
		Timestamp:      time.Now().UTC(),
		Browser:        "HeadlessChrome/120.0",
		PageTitle:      r.pageTitle,
		TestDurationMs: 1200,
		ScreenshotPath: td.ScreenshotPath,
		HARPath:        td.HARPath,
		Resources: types.ResourceTotals{
			TotalTransferSize: r.transfer,
		},
		ResourcesByType: r.byType,
	}
	if r.status == types.TestStatusPassed {
		m.Timing.DNSLookup = ptr(r.dnsMs)
		m.Timing.TimeToFirstByte = ptr(r.ttfbMs)
		m.Timing.TotalPageLoad = ptr(r.loadMs)
		return m, nil
	}
	m.Error = "navigation deadline exceeded"
	return m, context.DeadlineExceeded
}

func (d *scriptedDriver) Close() {}

func ptr(v float64) *float64 { return &v }

// recordingIngestor is the in-memory stand-in for the database ingest path.
type recordingIngestor struct {
	mu   sync.Mutex
	rows []*types.TestMeasurement
}

func (ri *recordingIngestor) InsertUrlTest(ctx context.Context, runID int64, m *types.TestMeasurement) (int64, string, error) {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.rows = append(ri.rows, m)
	return int64(len(ri.rows)), fmt.Sprintf("uuid-%d", len(ri.rows)), nil
}

var _ = Describe("Batch measurement pipeline", func() {
	var (
		artifactRoot string
		artifacts    *artifact.Store
		ingestor     *recordingIngestor
		driver       *scriptedDriver
	)

	newScheduler := func(workers int) *scheduler.Scheduler {
		factory := func(workerID int) (scheduler.Driver, error) { return driver, nil }
		return scheduler.New(workers, 10*time.Second, artifacts, factory, ingestor, nil, zap.NewNop())
	}

	BeforeEach(func() {
		artifactRoot = GinkgoT().TempDir()
		var err error
		artifacts, err = artifact.NewStore(artifactRoot, false, zap.NewNop())
		Expect(err).ToNot(HaveOccurred())
		ingestor = &recordingIngestor{}
		driver = &scriptedDriver{results: map[string]scriptedResult{}}
	})

	Describe("Empty run", func() {
		It("completes immediately with allPassed and zero counters", func() {
			start := time.Now()
			result, err := newScheduler(4).Run(context.Background(), 1, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Outcome).To(Equal(types.OutcomeAllPassed))
			Expect(result.Passed).To(BeZero())
			Expect(result.Failed).To(BeZero())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(ingestor.rows).To(BeEmpty())
		})
	})

	Describe("Single passing measurement", func() {
		It("ingests the full measurement with the HAR-derived histogram", func() {
			url := "https://example.com"
			driver.results[url] = scriptedResult{
				status:    types.TestStatusPassed,
				pageTitle: "Example",
				dnsMs:     12.3,
				ttfbMs:    88.0,
				loadMs:    640.5,
				transfer:  14_000,
				byType:    map[string]int{"script": 3, "img": 1},
				harCodes:  []int{200, 200, 200, 200},
			}

			result, err := newScheduler(2).Run(context.Background(), 1, []string{url})
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Outcome).To(Equal(types.OutcomeAllPassed))
			Expect(result.Passed).To(Equal(1))
			Expect(result.Failed).To(BeZero())

			Expect(ingestor.rows).To(HaveLen(1))
			m := ingestor.rows[0]
			Expect(m.Status).To(Equal(types.TestStatusPassed))
			Expect(m.PageTitle).To(Equal("Example"))
			Expect(*m.Timing.DNSLookup).To(Equal(12.3))
			Expect(*m.Timing.TimeToFirstByte).To(Equal(88.0))
			Expect(*m.Timing.TotalPageLoad).To(Equal(640.5))
			Expect(m.Resources.TotalTransferSize).To(Equal(int64(14_000)))
			Expect(m.ResourcesByType).To(Equal(map[string]int{"script": 3, "img": 1}))
			Expect(m.HTTPResponseCodes).To(Equal(map[string]int{"200": 4}))

			By("leaving a complete artifact directory behind")
			dir := filepath.Dir(m.ScreenshotPath)
			Expect(filepath.Join(dir, "screenshot.png")).To(BeARegularFile())
			Expect(filepath.Join(dir, "network.har")).To(BeARegularFile())
		})
	})

	Describe("Partial run", func() {
		It("keeps the TIMEOUT artifacts and reports somePassed", func() {
			passURL := "https://example.com/fast"
			timeoutURL := "https://example.com/slow"
			driver.results[passURL] = scriptedResult{
				status:   types.TestStatusPassed,
				loadMs:   300,
				harCodes: []int{200},
			}
			driver.results[timeoutURL] = scriptedResult{
				status:   types.TestStatusTimeout,
				harCodes: []int{200, 200},
			}

			result, err := newScheduler(2).Run(context.Background(), 1, []string{passURL, timeoutURL})
			Expect(err).ToNot(HaveOccurred())

			Expect(result.Outcome).To(Equal(types.OutcomeSomePassed))
			Expect(result.Passed).To(Equal(1))
			Expect(result.Failed).To(Equal(1))
			Expect(ingestor.rows).To(HaveLen(2))

			var timedOut *types.TestMeasurement
			for _, m := range ingestor.rows {
				if m.Status == types.TestStatusTimeout {
					timedOut = m
				}
			}
			Expect(timedOut).ToNot(BeNil())

			By("flushing the partial HAR before the session closed")
			data, err := os.ReadFile(timedOut.HARPath)
			Expect(err).ToNot(HaveOccurred())

			var har harlog.HAR
			Expect(json.Unmarshal(data, &har)).To(Succeed())
			Expect(har.Log.Entries).To(HaveLen(2))
			Expect(timedOut.HTTPResponseCodes).To(Equal(map[string]int{"200": 2}))
		})
	})

	Describe("Larger batch", func() {
		It("accounts for every URL exactly once", func() {
			urls := make([]string, 12)
			for i := range urls {
				urls[i] = fmt.Sprintf("https://example.com/page-%02d", i)
				driver.results[urls[i]] = scriptedResult{
					status:   types.TestStatusPassed,
					loadMs:   float64(100 + i),
					harCodes: []int{200},
				}
			}

			result, err := newScheduler(3).Run(context.Background(), 1, urls)
			Expect(err).ToNot(HaveOccurred())
			Expect(result.Passed).To(Equal(12))
			Expect(result.Failed).To(BeZero())

			seen := map[string]int{}
			for _, m := range ingestor.rows {
				seen[m.URL]++
			}
			for _, u := range urls {
				Expect(seen[u]).To(Equal(1), u)
			}
		})
	})
})
