package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"admin-auth-service/internal/models"
)

// MemorySink keeps events in process. Used for local runs and tests.
type MemorySink struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Name() string { return "memory" }

func (s *MemorySink) Write(_ context.Context, event models.AuditEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of everything written so far.
func (s *MemorySink) Events() []models.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AuditEvent(nil), s.events...)
}

// Actions lists event actions in write order.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers map[string]string) error
}

// KafkaSink streams events keyed by admin id, so one admin's events stay
// ordered within a partition.
type KafkaSink struct {
	producer publisher
}

func NewKafkaSink(p publisher) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, event models.AuditEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	key := event.EventID
	if id, ok := event.Details["admin_id"].(string); ok && id != "" {
		key = id
	}
	return s.producer.Publish(ctx, []byte(key), value, map[string]string{
		"action":   event.Action,
		"event_id": event.EventID,
	})
}

type batchInserter interface {
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
	Table() string
}

// ClickHouseSink appends events to the audit warehouse table. The table is
// expected to deduplicate on event_id (ReplacingMergeTree).
type ClickHouseSink struct {
	conn batchInserter
}

func NewClickHouseSink(conn batchInserter) *ClickHouseSink {
	return &ClickHouseSink{conn: conn}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, event models.AuditEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	query := fmt.Sprintf("INSERT INTO %s (event_id, action, details, timestamp)", s.conn.Table())
	return s.conn.BatchInsert(ctx, query, [][]interface{}{
		{event.EventID, event.Action, string(details), event.Timestamp},
	})
}

type indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
	AuditIndex() string
}

// ElasticsearchSink indexes events by event id.
type ElasticsearchSink struct {
	es indexer
}

func NewElasticsearchSink(es indexer) *ElasticsearchSink {
	return &ElasticsearchSink{es: es}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, event models.AuditEvent) error {
	return s.es.IndexDocument(ctx, s.es.AuditIndex(), event.EventID, event)
}
