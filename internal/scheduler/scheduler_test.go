package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/internal/artifact"
	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// stubDriver counts concurrent sessions and returns canned statuses.
type stubDriver struct {
	active     *int32
	maxActive  *int32
	delay      time.Duration
	statusFor  func(url string) types.TestStatus
	panicURL   string
	gate       chan struct{}
	measuredMu sync.Mutex
	measured   []string
}

func (d *stubDriver) Measure(ctx context.Context, url string, td *artifact.TestDir, store *artifact.Store) (*types.TestMeasurement, error) {
	cur := atomic.AddInt32(d.active, 1)
	defer atomic.AddInt32(d.active, -1)
	for {
		prev := atomic.LoadInt32(d.maxActive)
		if cur <= prev || atomic.CompareAndSwapInt32(d.maxActive, prev, cur) {
			break
		}
	}

	if url == d.panicURL {
		panic("driver exploded")
	}

	if d.gate != nil {
		<-d.gate
	}

	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return &types.TestMeasurement{URL: url, Status: types.TestStatusTimeout, Error: ctx.Err().Error()}, ctx.Err()
		}
	}

	d.measuredMu.Lock()
	d.measured = append(d.measured, url)
	d.measuredMu.Unlock()

	status := types.TestStatusPassed
	if d.statusFor != nil {
		status = d.statusFor(url)
	}
	m := &types.TestMeasurement{
		URL:            url,
		Status:         status,
		Timestamp:      time.Now().UTC(),
		TestDurationMs: d.delay.Milliseconds(),
		ScreenshotPath: td.ScreenshotPath,
		HARPath:        td.HARPath,
	}
	if status != types.TestStatusPassed {
		m.Error = "stub failure"
		return m, errors.New("stub failure")
	}
	return m, nil
}

func (d *stubDriver) Close() {}

// memIngestor records every insert.
type memIngestor struct {
	mu      sync.Mutex
	rows    []*types.TestMeasurement
	nextID  int64
	failFor map[string]error
}

func (mi *memIngestor) InsertUrlTest(ctx context.Context, runID int64, m *types.TestMeasurement) (int64, string, error) {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	if err, ok := mi.failFor[m.URL]; ok && m.Status != types.TestStatusFailed {
		return 0, "", err
	}
	mi.nextID++
	mi.rows = append(mi.rows, m)
	return mi.nextID, fmt.Sprintf("uuid-%d", mi.nextID), nil
}

func (mi *memIngestor) byURL(url string) *types.TestMeasurement {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	for _, r := range mi.rows {
		if r.URL == url {
			return r
		}
	}
	return nil
}

func (mi *memIngestor) statuses() map[string]types.TestStatus {
	mi.mu.Lock()
	defer mi.mu.Unlock()
	out := make(map[string]types.TestStatus)
	for _, r := range mi.rows {
		out[r.URL] = r.Status
	}
	return out
}

func newTestScheduler(t *testing.T, workers int, driver *stubDriver, ingestor *memIngestor) *Scheduler {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), false, zap.NewNop())
	require.NoError(t, err)

	factory := func(workerID int) (Driver, error) { return driver, nil }
	return New(workers, 2*time.Second, store, factory, ingestor, nil, zap.NewNop())
}

func urlsN(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site-%03d.example/", i)
	}
	return urls
}

func TestRunEmptyInput(t *testing.T) {
	ingestor := &memIngestor{}
	s := newTestScheduler(t, 4, &stubDriver{active: new(int32), maxActive: new(int32)}, ingestor)

	res, err := s.Run(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeAllPassed, res.Outcome)
	assert.Zero(t, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, ingestor.rows)
}

func TestRunAllPassed(t *testing.T) {
	ingestor := &memIngestor{}
	driver := &stubDriver{active: new(int32), maxActive: new(int32)}
	s := newTestScheduler(t, 3, driver, ingestor)

	res, err := s.Run(context.Background(), 1, urlsN(10))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeAllPassed, res.Outcome)
	assert.Equal(t, 10, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Len(t, ingestor.rows, 10)
}

func TestRunConcurrencyBound(t *testing.T) {
	ingestor := &memIngestor{}
	driver := &stubDriver{
		active:    new(int32),
		maxActive: new(int32),
		delay:     20 * time.Millisecond,
	}
	s := newTestScheduler(t, 4, driver, ingestor)

	_, err := s.Run(context.Background(), 1, urlsN(24))
	require.NoError(t, err)

	max := atomic.LoadInt32(driver.maxActive)
	assert.LessOrEqual(t, max, int32(4), "worker pool exceeded its bound")
	assert.Positive(t, max)
}

func TestRunMixedOutcome(t *testing.T) {
	ingestor := &memIngestor{}
	driver := &stubDriver{
		active:    new(int32),
		maxActive: new(int32),
		statusFor: func(url string) types.TestStatus {
			if url == "https://site-001.example/" {
				return types.TestStatusTimeout
			}
			return types.TestStatusPassed
		},
	}
	s := newTestScheduler(t, 2, driver, ingestor)

	res, err := s.Run(context.Background(), 1, urlsN(3))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSomePassed, res.Outcome)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 1, res.Failed)

	// The TIMEOUT measurement is still ingested
	assert.Equal(t, types.TestStatusTimeout, ingestor.statuses()["https://site-001.example/"])
}

func TestRunPanicContainment(t *testing.T) {
	ingestor := &memIngestor{}
	driver := &stubDriver{
		active:    new(int32),
		maxActive: new(int32),
		panicURL:  "https://site-002.example/",
	}
	s := newTestScheduler(t, 2, driver, ingestor)

	res, err := s.Run(context.Background(), 1, urlsN(5))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, ingestor.rows, 5)

	// The synthetic row still references its allocated artifact directory
	// and carries a derived domain, like any other measurement.
	row := ingestor.byURL("https://site-002.example/")
	require.NotNil(t, row)
	assert.Equal(t, types.TestStatusError, row.Status)
	assert.Equal(t, "site-002.example", row.Domain)
	assert.NotEmpty(t, row.ScreenshotPath)
	assert.NotEmpty(t, row.HARPath)
}

func TestRunStopIntakeDrainsInFlight(t *testing.T) {
	ingestor := &memIngestor{}
	gate := make(chan struct{})
	driver := &stubDriver{active: new(int32), maxActive: new(int32), gate: gate}
	s := newTestScheduler(t, 1, driver, ingestor)

	// Stop intake while the first job is held at the gate, then release it.
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.StopIntake()
		s.StopIntake()
		time.Sleep(20 * time.Millisecond)
		close(gate)
	}()

	res, err := s.Run(context.Background(), 1, urlsN(5))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Len(t, ingestor.rows, 1)
}

func TestRunIngestFallback(t *testing.T) {
	ingestor := &memIngestor{
		failFor: map[string]error{"https://site-000.example/": errors.New("disk full")},
	}
	driver := &stubDriver{active: new(int32), maxActive: new(int32)}
	s := newTestScheduler(t, 1, driver, ingestor)

	res, err := s.Run(context.Background(), 1, urlsN(2))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSomePassed, res.Outcome)
	assert.Equal(t, 1, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, types.TestStatusFailed, ingestor.statuses()["https://site-000.example/"])
}

func TestOutcomeFor(t *testing.T) {
	assert.Equal(t, types.OutcomeAllPassed, outcomeFor(5, 0))
	assert.Equal(t, types.OutcomeAllPassed, outcomeFor(0, 0))
	assert.Equal(t, types.OutcomeSomePassed, outcomeFor(3, 2))
	assert.Equal(t, types.OutcomeNoneCompleted, outcomeFor(0, 4))
}
