// Package kafka publishes analytics events. Delivery is fire-and-forget
// from the caller's perspective: a publish failure is logged and counted,
// never surfaced to the request path.
package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/searchit/searchit"
	"github.com/searchit/searchit/metrics"
)

// Topic names.
const (
	TopicSearch = "search.events"
	TopicAsk    = "ask.events"
)

// Event types.
const (
	EventSearchQuery    = "search.query"
	EventSearchClick    = "search.click"
	EventSearchFeedback = "search.feedback"
	EventAskAnswer      = "ask.answer"
)

// Event is the wire shape shared by every analytics event. Fields beyond
// the envelope are event-type specific and omitted when empty.
type Event struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Timestamp string `json:"ts"`

	Query     string `json:"query,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
	Results   int    `json:"results,omitempty"`
	DocID     string `json:"doc_id,omitempty"`
	ChunkID   string `json:"chunk_id,omitempty"`
	Label     string `json:"label,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Abstained *bool  `json:"abstained,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Citations int    `json:"citations,omitempty"`
}

// Producer writes analytics events to the broker.
type Producer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewProducer creates a producer against broker (host:port). Topics are
// auto-created on first write.
func NewProducer(broker string, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{
		writer: &kafkago.Writer{
			Addr:                   kafkago.TCP(broker),
			Balancer:               &kafkago.LeastBytes{},
			AllowAutoTopicCreation: true,
			WriteTimeout:           5 * time.Second,
		},
		logger: logger,
	}
}

// SearchQuery publishes a search.query event.
func (p *Producer) SearchQuery(ctx context.Context, query string, topK, results int) {
	p.publish(ctx, TopicSearch, Event{
		EventType: EventSearchQuery,
		Query:     query,
		TopK:      topK,
		Results:   results,
	})
}

// Click publishes a search.click event.
func (p *Producer) Click(ctx context.Context, query, docID, chunkID, userID string) {
	p.publish(ctx, TopicSearch, Event{
		EventType: EventSearchClick,
		Query:     query,
		DocID:     docID,
		ChunkID:   chunkID,
		UserID:    userID,
	})
}

// FeedbackEvent publishes a search.feedback event mirroring a stored
// feedback row.
func (p *Producer) FeedbackEvent(ctx context.Context, fb searchit.Feedback) {
	p.publish(ctx, TopicSearch, Event{
		EventType: EventSearchFeedback,
		Query:     fb.Query,
		DocID:     fb.DocID,
		ChunkID:   fb.ChunkID,
		Label:     fb.Label,
		UserID:    fb.UserID,
	})
}

// AskAnswer publishes an ask.answer event describing the outcome of an ask
// request, answered or abstained.
func (p *Producer) AskAnswer(ctx context.Context, query string, resp searchit.AskResponse) {
	abstained := resp.Abstained
	p.publish(ctx, TopicAsk, Event{
		EventType: EventAskAnswer,
		Query:     query,
		Abstained: &abstained,
		Reason:    string(resp.Reason),
		Citations: len(resp.Citations),
	})
}

// publish stamps the envelope and writes one message keyed by event id.
func (p *Producer) publish(ctx context.Context, topic string, ev Event) {
	ev.EventID = searchit.NewID()
	ev.Timestamp = searchit.NowUTC().Format(time.RFC3339)

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("event marshal failed", "topic", topic, "type", ev.EventType, "error", err)
		metrics.EventsDropped.WithLabelValues(topic).Inc()
		return
	}

	err = p.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(ev.EventID),
		Value: payload,
	})
	if err != nil {
		p.logger.Warn("event publish failed", "topic", topic, "type", ev.EventType, "error", err)
		metrics.EventsDropped.WithLabelValues(topic).Inc()
	}
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
