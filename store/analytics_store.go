// api/store/analytics_store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"maison/api/database"
	"maison/api/models"
	"maison/api/utils"

	"github.com/google/uuid"
)

// AnalyticsStore archives every ingested event in ClickHouse and answers
// the historical questions the volatile store cannot.
type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

type EventTypeCountByTime struct {
	Time      time.Time `json:"time"`
	EventType *string   `json:"eventType,omitempty"`
	Count     uint64    `json:"count"`
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

const visitorEventsDDL = `
	CREATE TABLE IF NOT EXISTS visitor_events (
		event_id       UUID,
		event_type     LowCardinality(String),
		visitor_id     String,
		session_id     String,
		timestamp      DateTime64(3, 'UTC'),
		page           String,
		referrer       String,
		country        LowCardinality(String),
		city           String,
		device_type    LowCardinality(String),
		browser        LowCardinality(String),
		os             LowCardinality(String),
		is_new_visitor UInt8,
		order_total    Float64,
		event_data     String
	) ENGINE = MergeTree
	ORDER BY (event_type, timestamp)
`

func (s *AnalyticsStore) EnsureSchema(ctx context.Context) error {
	if err := s.DB.Conn.Exec(ctx, visitorEventsDDL); err != nil {
		return fmt.Errorf("failed to create visitor_events table: %w", err)
	}
	return nil
}

// archiveRow is one visitor_events row, in column order.
type archiveRow struct {
	EventID      uuid.UUID
	EventType    string
	VisitorID    string
	SessionID    string
	Timestamp    time.Time
	Page         string
	Referrer     string
	Country      string
	City         string
	DeviceType   string
	Browser      string
	OS           string
	IsNewVisitor uint8
	OrderTotal   float64
	EventData    string
}

func newArchiveRow(n models.Notification) archiveRow {
	evt := n.Data
	row := archiveRow{
		EventID:   uuid.New(),
		EventType: n.Type,
		VisitorID: evt.VisitorID,
		SessionID: evt.SessionID,
		Timestamp: n.Timestamp.UTC(),
		Page:      evt.Text("page"),
		Referrer:  evt.Text("referrer"),
	}
	if evt.Location != nil {
		row.Country = evt.Location.Country
		row.City = evt.Location.City
	}
	if evt.Device != nil {
		row.DeviceType = evt.Device.Type
		row.Browser = evt.Device.Browser
		row.OS = evt.Device.OS
	}
	if evt.IsNewVisitor() {
		row.IsNewVisitor = 1
	}
	if n.Type == models.EventOrderCompleted {
		row.OrderTotal, _ = evt.Number("total")
	}
	if data, err := json.Marshal(evt); err == nil {
		row.EventData = string(data)
	}
	return row
}

func (s *AnalyticsStore) InsertVisitorEvents(ctx context.Context, notifications []models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, `
		INSERT INTO visitor_events (
			event_id, event_type, visitor_id, session_id, timestamp, page, referrer,
			country, city, device_type, browser, os, is_new_visitor, order_total, event_data
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, n := range notifications {
		r := newArchiveRow(n)
		err := batch.Append(
			r.EventID, r.EventType, r.VisitorID, r.SessionID, r.Timestamp, r.Page, r.Referrer,
			r.Country, r.City, r.DeviceType, r.Browser, r.OS, r.IsNewVisitor, r.OrderTotal, r.EventData,
		)
		if err != nil {
			log.Printf("Error appending event to batch (notification %s): %v", n.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// eventCountsQuery groups events into interval buckets, optionally split
// by a single event type.
func eventCountsQuery(interval, eventTypeFilter string) (string, error) {
	if !utils.IsValidInterval(interval) {
		return "", fmt.Errorf("invalid interval: %s", interval)
	}

	selectCols := fmt.Sprintf("toStartOf%s(timestamp) AS time_bucket, count() AS total_events", interval)
	groupByCols := "time_bucket"
	whereClause := "WHERE timestamp >= ? AND timestamp <= ?"
	orderByCols := "time_bucket ASC"

	if eventTypeFilter != "" {
		selectCols += ", event_type"
		groupByCols += ", event_type"
		whereClause += " AND event_type = ?"
		orderByCols += ", event_type ASC"
	}

	return fmt.Sprintf(`
		SELECT %s
		FROM visitor_events
		%s
		GROUP BY %s
		ORDER BY %s
	`, selectCols, whereClause, groupByCols, orderByCols), nil
}

func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]EventTypeCountByTime, error) {
	query, err := eventCountsQuery(interval, eventTypeFilter)
	if err != nil {
		return nil, err
	}
	args := []any{start, end}
	isFilteringByType := eventTypeFilter != ""
	if isFilteringByType {
		args = append(args, eventTypeFilter)
	}

	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var (
			timeBucket time.Time
			count      uint64
			current    EventTypeCountByTime
		)
		if isFilteringByType {
			var eventType string
			if err := rows.Scan(&timeBucket, &count, &eventType); err != nil {
				log.Printf("Error scanning row for event counts over time (with type filter): %v", err)
				continue
			}
			current.EventType = &eventType
		} else if err := rows.Scan(&timeBucket, &count); err != nil {
			log.Printf("Error scanning row for event counts over time: %v", err)
			continue
		}
		current.Time = timeBucket
		current.Count = count
		results = append(results, current)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetUniqueVisitorsOverTime(ctx context.Context, interval string, start, end time.Time) ([]EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := fmt.Sprintf(`
		SELECT toStartOf%s(timestamp) AS time_bucket, uniq(visitor_id) AS unique_visitors
		FROM visitor_events
		WHERE timestamp >= ? AND timestamp <= ?
		GROUP BY time_bucket
		ORDER BY time_bucket ASC
	`, interval)

	rows, err := s.DB.Conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query unique visitors over time: %w", err)
	}
	defer rows.Close()

	var results []EventTypeCountByTime
	for rows.Next() {
		var timeBucket time.Time
		var unique uint64
		if err := rows.Scan(&timeBucket, &unique); err != nil {
			log.Printf("Error scanning row for unique visitors: %v", err)
			continue
		}
		results = append(results, EventTypeCountByTime{Time: timeBucket, Count: unique})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique visitors: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetTopPages(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPageResult, error) {
	if limit == 0 {
		limit = 10
	}

	rows, err := s.DB.Conn.Query(ctx, `
		SELECT page, count() AS view_count
		FROM visitor_events
		WHERE event_type = 'page_view' AND page != '' AND timestamp >= ? AND timestamp <= ?
		GROUP BY page
		ORDER BY view_count DESC
		LIMIT ?
	`, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top pages: %w", err)
	}
	defer rows.Close()

	var results []models.TopPageResult
	for rows.Next() {
		var r models.TopPageResult
		if err := rows.Scan(&r.Page, &r.Count); err != nil {
			log.Printf("Error scanning row for top pages: %v", err)
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top pages: %w", err)
	}
	return results, nil
}

func (s *AnalyticsStore) GetAverageOrderValue(ctx context.Context, start, end time.Time) (float64, error) {
	var avg float64
	err := s.DB.Conn.QueryRow(ctx, `
		SELECT avg(order_total)
		FROM visitor_events
		WHERE event_type = 'order_completed' AND timestamp >= ? AND timestamp <= ?
	`, start, end).Scan(&avg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query average order value: %w", err)
	}

	// avg() over no rows is NaN, which encoding/json rejects.
	if math.IsNaN(avg) {
		return 0, nil
	}
	return avg, nil
}
