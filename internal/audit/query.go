package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"github.com/muaviaUsmani/plantain/internal/events"
	"github.com/muaviaUsmani/plantain/internal/model"
	"github.com/muaviaUsmani/plantain/internal/qerrors"
	"github.com/muaviaUsmani/plantain/internal/serialization"
	"github.com/muaviaUsmani/plantain/internal/storage"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// SearchQuery filters the audit log. Zero-valued fields do not filter.
type SearchQuery struct {
	// EventType matches exactly.
	EventType string
	// Level is a minimum; warning matches warning and critical.
	Level model.AuditLevel
	// Actor matches exactly.
	Actor string
	// Since and Until bound the timestamp, inclusive.
	Since time.Time
	Until time.Time
	// Limit caps the result count. 0 means no cap.
	Limit int
}

// Stats summarizes the live entries of a queue's audit log.
type Stats struct {
	Total       int            `json:"total"`
	ByLevel     map[string]int `json:"byLevel"`
	ByEventType map[string]int `json:"byEventType"`
	Oldest      *time.Time     `json:"oldest,omitempty"`
	Newest      *time.Time     `json:"newest,omitempty"`
}

// GetAuditLogs returns up to limit entries, newest first. limit <= 0
// returns everything. Entries whose hash already expired are skipped.
func (t *Trail) GetAuditLogs(ctx context.Context, queueID string, limit int) ([]*model.AuditRecord, error) {
	const op = "audit.GetAuditLogs"
	start := time.Now()

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := t.store.ZRevRange(ctx, storage.AuditIndexKey(queueID), 0, stop)
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}

	records := make([]*model.AuditRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := t.loadRecord(ctx, queueID, id)
		if err != nil {
			t.observe(op, queueID, start, err)
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	t.observe(op, queueID, start, nil)
	return records, nil
}

// SearchAuditLogs returns the entries matching the query, newest first.
func (t *Trail) SearchAuditLogs(ctx context.Context, queueID string, query SearchQuery) ([]*model.AuditRecord, error) {
	const op = "audit.SearchAuditLogs"
	start := time.Now()

	ids, err := t.indexRange(ctx, queueID, query.Since, query.Until)
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}

	var records []*model.AuditRecord
	for _, id := range ids {
		rec, err := t.loadRecord(ctx, queueID, id)
		if err != nil {
			t.observe(op, queueID, start, err)
			return nil, err
		}
		if rec == nil || !matches(rec, query) {
			continue
		}
		records = append(records, rec)
		if query.Limit > 0 && len(records) >= query.Limit {
			break
		}
	}
	t.observe(op, queueID, start, nil)
	return records, nil
}

// indexRange returns ids newest first, bounded by the time window.
func (t *Trail) indexRange(ctx context.Context, queueID string, since, until time.Time) ([]string, error) {
	index := storage.AuditIndexKey(queueID)
	if since.IsZero() && until.IsZero() {
		return t.store.ZRevRange(ctx, index, 0, -1)
	}

	min, max := "-inf", "+inf"
	if !since.IsZero() {
		min = strconv.FormatInt(serialization.EpochMillis(since), 10)
	}
	if !until.IsZero() {
		max = strconv.FormatInt(serialization.EpochMillis(until), 10)
	}
	asc, err := t.store.ZRangeByScore(ctx, index, min, max, 0, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(asc)-1; i < j; i, j = i+1, j-1 {
		asc[i], asc[j] = asc[j], asc[i]
	}
	return asc, nil
}

func matches(rec *model.AuditRecord, query SearchQuery) bool {
	if query.EventType != "" && rec.EventType != query.EventType {
		return false
	}
	if query.Level != "" && !rec.Level.AtLeast(query.Level) {
		return false
	}
	if query.Actor != "" && rec.Actor != query.Actor {
		return false
	}
	return true
}

// GetAuditStats aggregates the live entries.
func (t *Trail) GetAuditStats(ctx context.Context, queueID string) (*Stats, error) {
	const op = "audit.GetAuditStats"
	start := time.Now()

	ids, err := t.store.ZRange(ctx, storage.AuditIndexKey(queueID), 0, -1)
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}

	stats := &Stats{
		ByLevel:     make(map[string]int),
		ByEventType: make(map[string]int),
	}
	for _, id := range ids {
		rec, err := t.loadRecord(ctx, queueID, id)
		if err != nil {
			t.observe(op, queueID, start, err)
			return nil, err
		}
		if rec == nil {
			continue
		}
		stats.Total++
		stats.ByLevel[string(rec.Level)]++
		stats.ByEventType[rec.EventType]++
		ts := rec.Timestamp
		if stats.Oldest == nil {
			stats.Oldest = &ts
		}
		stats.Newest = &ts
	}
	t.observe(op, queueID, start, nil)
	return stats, nil
}

// ExportAuditLogs renders the whole log oldest first as JSON or CSV.
func (t *Trail) ExportAuditLogs(ctx context.Context, queueID, format string) ([]byte, error) {
	const op = "audit.ExportAuditLogs"
	start := time.Now()

	if format != FormatJSON && format != FormatCSV {
		err := qerrors.Newf(qerrors.KindValidation, op, "unsupported export format %q", format).WithQueue(queueID)
		t.observe(op, queueID, start, err)
		return nil, err
	}

	ids, err := t.store.ZRange(ctx, storage.AuditIndexKey(queueID), 0, -1)
	if err != nil {
		t.observe(op, queueID, start, err)
		return nil, err
	}
	records := make([]*model.AuditRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := t.loadRecord(ctx, queueID, id)
		if err != nil {
			t.observe(op, queueID, start, err)
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}

	var out []byte
	switch format {
	case FormatJSON:
		out, err = json.MarshalIndent(records, "", "  ")
	case FormatCSV:
		out, err = renderCSV(records)
	}
	if err != nil {
		err := qerrors.Wrap(qerrors.KindValidation, op, err).WithQueue(queueID)
		t.observe(op, queueID, start, err)
		return nil, err
	}
	t.observe(op, queueID, start, nil)
	return out, nil
}

func renderCSV(records []*model.AuditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "queueId", "eventType", "level", "timestamp", "actor", "data", "metadata"}); err != nil {
		return nil, err
	}
	for _, rec := range records {
		data := ""
		if rec.Data != nil {
			s, err := serialization.MarshalField(rec.Data)
			if err != nil {
				return nil, err
			}
			data = s
		}
		meta := ""
		if len(rec.Metadata) > 0 {
			s, err := serialization.MarshalField(rec.Metadata)
			if err != nil {
				return nil, err
			}
			meta = s
		}
		row := []string{
			rec.ID,
			rec.QueueID,
			rec.EventType,
			string(rec.Level),
			serialization.FormatTime(rec.Timestamp),
			rec.Actor,
			data,
			meta,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CleanupAuditLogs prunes index entries whose hash expired and deletes
// entries older than the configured retention. Returns how many index
// entries were removed.
func (t *Trail) CleanupAuditLogs(ctx context.Context, queueID string) (int, error) {
	const op = "audit.CleanupAuditLogs"
	start := time.Now()

	cfg, err := t.GetAuditConfig(ctx, queueID)
	if err != nil {
		t.observe(op, queueID, start, err)
		return 0, err
	}
	var cutoff int64
	if cfg != nil && cfg.RetentionDays > 0 {
		retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
		cutoff = serialization.EpochMillis(time.Now().Add(-retention))
	}

	entries, err := t.store.ZRangeByScoreWithScores(ctx, storage.AuditIndexKey(queueID), "-inf", "+inf", 0, 0)
	if err != nil {
		t.observe(op, queueID, start, err)
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		logKey := storage.AuditLogKey(queueID, id)
		exists, err := t.store.Exists(ctx, logKey)
		if err != nil {
			t.observe(op, queueID, start, err)
			return removed, err
		}
		if exists && (cutoff == 0 || int64(entry.Score) >= cutoff) {
			continue
		}
		if exists {
			if _, err := t.store.Del(ctx, logKey); err != nil {
				t.observe(op, queueID, start, err)
				return removed, err
			}
		}
		if err := t.store.ZRem(ctx, storage.AuditIndexKey(queueID), id); err != nil {
			t.observe(op, queueID, start, err)
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		t.emit(events.TypeAuditCleaned, queueID, map[string]interface{}{"removed": removed})
		t.log.Info("audit logs cleaned", "queue_id", queueID, "removed", removed)
	}
	t.observe(op, queueID, start, nil)
	return removed, nil
}

// loadRecord reads one entry; (nil, nil) when the hash expired or does
// not parse.
func (t *Trail) loadRecord(ctx context.Context, queueID, id string) (*model.AuditRecord, error) {
	fields, err := t.store.HGetAll(ctx, storage.AuditLogKey(queueID, id))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec, err := model.AuditRecordFromHash(fields)
	if err != nil {
		t.log.Warn("skipping corrupted audit entry",
			"queue_id", queueID, "audit_id", id, "error", err.Error())
		return nil, nil
	}
	return rec, nil
}
