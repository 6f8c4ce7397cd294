package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/projectpumpkin/pumpkin/pkg/types"
)

// InsertUrlTest writes one measurement and its normalized satellites in a
// single transaction. The counter trigger on url_tests fires exactly once
// per successful insert. A uuid collision is retried once with a fresh
// uuid; a connection-class failure gets one transparent reconnect+retry.
func (s *Store) InsertUrlTest(ctx context.Context, runID int64, m *types.TestMeasurement) (int64, string, error) {
	id, testUUID, err := s.insertOnce(ctx, runID, m, uuid.New().String())

	if isUniqueViolation(err) {
		s.logger.Warn("UUID collision on url_test insert, retrying",
			zap.Int64("run_id", runID),
			zap.String("url", m.URL))
		id, testUUID, err = s.insertOnce(ctx, runID, m, uuid.New().String())
	}

	if isConnectionError(err) {
		if rerr := s.reconnect(ctx); rerr != nil {
			return 0, "", rerr
		}
		id, testUUID, err = s.insertOnce(ctx, runID, m, uuid.New().String())
	}

	if err != nil {
		switch {
		case errors.Is(err, ErrRunMissing), errors.Is(err, ErrRunFinalized):
			return 0, "", err
		case isForeignKeyViolation(err):
			return 0, "", fmt.Errorf("%w: run %d", ErrRunMissing, runID)
		default:
			return 0, "", fmt.Errorf("%w: %v", ErrIngestPersistent, err)
		}
	}

	s.logger.Debug("Measurement ingested",
		zap.Int64("url_test_id", id),
		zap.Int64("run_id", runID),
		zap.String("url", m.URL),
		zap.String("status", string(m.Status)))
	return id, testUUID, nil
}

func (s *Store) insertOnce(ctx context.Context, runID int64, m *types.TestMeasurement, testUUID string) (int64, string, error) {
	tx, err := s.Pool().Begin(ctx)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback(ctx)

	// Insertions into finalized runs are rejected before touching the row
	var runStatus string
	err = tx.QueryRow(ctx,
		`SELECT status FROM runs WHERE id = $1 FOR UPDATE`, runID).Scan(&runStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", fmt.Errorf("%w: run %d", ErrRunMissing, runID)
	}
	if err != nil {
		return 0, "", err
	}
	if runStatus != string(types.RunStatusRunning) {
		return 0, "", fmt.Errorf("%w: run %d is %s", ErrRunFinalized, runID, runStatus)
	}

	resourcesJSON, err := mapJSON(m.ResourcesByType)
	if err != nil {
		return 0, "", err
	}
	codesJSON, err := mapJSON(m.HTTPResponseCodes)
	if err != nil {
		return 0, "", err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO url_tests (
			uuid, test_run_id, url, domain, browser, user_agent, page_title,
			status, error_message, test_timestamp,
			test_duration_ms, scroll_duration_ms,
			dns_lookup_ms, tcp_connection_ms, tls_negotiation_ms,
			time_to_first_byte_ms, response_time_ms,
			dom_content_loaded_ms, dom_interactive_ms, total_page_load_ms,
			doc_transfer_size, doc_encoded_size, doc_decoded_size,
			total_resources, total_transfer_size, total_encoded_size,
			resources_by_type, http_response_codes,
			screenshot_path, har_path
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)
		RETURNING id`,
		testUUID, runID, m.URL, m.Domain,
		nullStr(m.Browser), nullStr(m.UserAgent), nullStr(m.PageTitle),
		string(m.Status), nullStr(m.Error), m.Timestamp,
		m.TestDurationMs, m.ScrollDurationMs,
		m.Timing.DNSLookup, m.Timing.TCPConnection, m.Timing.TLSNegotiation,
		m.Timing.TimeToFirstByte, m.Timing.ResponseTime,
		m.Timing.DOMContentLoaded, m.Timing.DOMInteractive, m.Timing.TotalPageLoad,
		m.Document.TransferSize, m.Document.EncodedSize, m.Document.DecodedSize,
		m.Resources.TotalResources, m.Resources.TotalTransferSize, m.Resources.TotalEncodedSize,
		resourcesJSON, codesJSON,
		m.ScreenshotPath, m.HARPath,
	).Scan(&id)
	if err != nil {
		return 0, "", err
	}

	// Normalized satellites, deterministic order for reproducible tests
	for _, code := range sortedKeys(m.HTTPResponseCodes) {
		statusCode, cerr := strconv.Atoi(code)
		if cerr != nil {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO status_histogram (url_test_id, status_code, response_count)
			VALUES ($1, $2, $3)`,
			id, statusCode, m.HTTPResponseCodes[code]); err != nil {
			return 0, "", err
		}
	}

	for _, kind := range sortedKeys(m.ResourcesByType) {
		if _, err := tx.Exec(ctx, `
			INSERT INTO resource_types (url_test_id, resource_type, resource_count)
			VALUES ($1, $2, $3)`,
			id, kind, m.ResourcesByType[kind]); err != nil {
			return 0, "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, "", err
	}
	return id, testUUID, nil
}

func mapJSON(m map[string]int) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
