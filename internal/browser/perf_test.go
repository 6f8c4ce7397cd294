package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

func TestApplySnapshot(t *testing.T) {
	m := &types.TestMeasurement{}
	applySnapshot(m, &perfSnapshot{
		Title:     "Example Domain",
		UserAgent: "Mozilla/5.0",
		Nav: &navEntry{
			StartTime:                0,
			DomainLookupStart:        1,
			DomainLookupEnd:          13.3,
			ConnectStart:             13.3,
			ConnectEnd:               40,
			SecureConnectionStart:    20,
			RequestStart:             40,
			ResponseStart:            128,
			ResponseEnd:              150,
			DOMInteractive:           300,
			DOMContentLoadedEventEnd: 320,
			LoadEventEnd:             640.5,
			TransferSize:             14000,
			EncodedBodySize:          13500,
			DecodedBodySize:          42000,
		},
		Resources: []resourceEntry{
			{InitiatorType: "script", TransferSize: 1000, EncodedBodySize: 900},
			{InitiatorType: "script", TransferSize: 2000, EncodedBodySize: 1800},
			{InitiatorType: "img", TransferSize: 500, EncodedBodySize: 500},
			{InitiatorType: "", TransferSize: 10, EncodedBodySize: 10},
		},
	})

	assert.Equal(t, "Example Domain", m.PageTitle)
	assert.Equal(t, "Mozilla/5.0", m.UserAgent)

	require.NotNil(t, m.Timing.DNSLookup)
	assert.InDelta(t, 12.3, *m.Timing.DNSLookup, 0.001)
	require.NotNil(t, m.Timing.TLSNegotiation)
	assert.InDelta(t, 20.0, *m.Timing.TLSNegotiation, 0.001)
	require.NotNil(t, m.Timing.TimeToFirstByte)
	assert.InDelta(t, 88.0, *m.Timing.TimeToFirstByte, 0.001)
	require.NotNil(t, m.Timing.TotalPageLoad)
	assert.InDelta(t, 640.5, *m.Timing.TotalPageLoad, 0.001)

	require.NotNil(t, m.Document.TransferSize)
	assert.Equal(t, int64(14000), *m.Document.TransferSize)

	assert.Equal(t, 4, m.Resources.TotalResources)
	assert.Equal(t, int64(3510), m.Resources.TotalTransferSize)
	assert.Equal(t, int64(3210), m.Resources.TotalEncodedSize)
	assert.Equal(t, map[string]int{"script": 2, "img": 1, "other": 1}, m.ResourcesByType)
}

func TestApplySnapshotClampsNegatives(t *testing.T) {
	m := &types.TestMeasurement{}
	applySnapshot(m, &perfSnapshot{
		Nav: &navEntry{
			DomainLookupStart: 10,
			DomainLookupEnd:   5, // cached lookup can report inverted marks
			RequestStart:      50,
			ResponseStart:     40,
		},
	})

	require.NotNil(t, m.Timing.DNSLookup)
	assert.Equal(t, 0.0, *m.Timing.DNSLookup)
	require.NotNil(t, m.Timing.TimeToFirstByte)
	assert.Equal(t, 0.0, *m.Timing.TimeToFirstByte)
}

func TestApplySnapshotUnmeasurablePhases(t *testing.T) {
	m := &types.TestMeasurement{}
	applySnapshot(m, &perfSnapshot{
		Nav: &navEntry{
			// Plain http: no TLS marks; load event not yet fired
			SecureConnectionStart: 0,
			LoadEventEnd:          0,
		},
	})

	assert.Nil(t, m.Timing.TLSNegotiation)
	assert.Nil(t, m.Timing.TotalPageLoad)
	assert.Nil(t, m.Timing.DOMContentLoaded)
}

func TestApplySnapshotNilSafe(t *testing.T) {
	m := &types.TestMeasurement{}
	applySnapshot(m, nil)
	applySnapshot(m, &perfSnapshot{})

	assert.Empty(t, m.PageTitle)
	assert.Nil(t, m.Timing.DNSLookup)
	assert.Equal(t, 0, m.Resources.TotalResources)
	assert.Nil(t, m.ResourcesByType)
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.TestStatus
	}{
		{"nil", nil, types.TestStatusPassed},
		{"deadline", context.DeadlineExceeded, types.TestStatusTimeout},
		{"wrapped deadline", errors.Join(errors.New("run"), context.DeadlineExceeded), types.TestStatusTimeout},
		{"navigation timeout", ErrNavigateTimeout, types.TestStatusTimeout},
		{"chromedp wording", errors.New("context deadline exceeded"), types.TestStatusTimeout},
		{"navigation failure", ErrNavigateFailed, types.TestStatusError},
		{"screenshot failure", ErrScreenshot, types.TestStatusError},
		{"generic", errors.New("net::ERR_NAME_NOT_RESOLVED"), types.TestStatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForError(tt.err))
		})
	}
}
