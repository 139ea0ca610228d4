package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainkit/evmindexer/internal/codec"
	"github.com/chainkit/evmindexer/internal/progress"
	"github.com/chainkit/evmindexer/internal/sink"
)

// maxPayloadBytes bounds a single published message per §4.8: a batch
// larger than this is split across multiple messages rather than sent as
// one oversized publish, since most brokers (NATS, Kafka) either reject or
// silently truncate payloads well above this size.
const maxPayloadBytes = 75 * 1024

// Predicate is the hook a manifest's stream config can attach to one event:
// given the decoded row, report whether it should be published at all. The
// predicate expression language itself is an external, opaque engine (§1);
// this package only ever calls whatever Predicate the caller supplies.
type Predicate func(table sink.Table, columns []string, row []codec.Variant) bool

// Transport is one outbound publisher (NATS JetStream, Kafka, or any
// future broker) a Sink fans a batch out to. A Transport failing to
// publish must never prevent a sibling Transport from receiving the same
// batch (§9); Sink.BulkInsert enforces that by publishing to every
// Transport concurrently and only afterward aggregating errors.
type Transport interface {
	Name() string
	Publish(ctx context.Context, subject string, payload []byte) error
	Close() error
}

// Sink publishes decoded batches to one or more Transports as chunked JSON
// envelopes. It implements sink.Sink so the Processor can treat a stream
// destination exactly like a relational or columnar one.
type Sink struct {
	transports []Transport
	predicate  Predicate
	log        zerolog.Logger
}

// New builds a stream Sink fanning batches out to every given transport.
// predicate may be nil, meaning every row publishes unconditionally.
func New(log zerolog.Logger, predicate Predicate, transports ...Transport) *Sink {
	return &Sink{transports: transports, predicate: predicate, log: log}
}

// BulkInsert encodes each row as a Message, drops rows the predicate
// rejects, chunks the remaining messages to stay under maxPayloadBytes per
// publish, and fans each chunk out to every transport concurrently.
func (s *Sink) BulkInsert(ctx context.Context, table sink.Table, columns []string, rows [][]codec.Variant) error {
	subject := table.Name()

	var messages []Message
	for _, row := range rows {
		if s.predicate != nil && !s.predicate(table, columns, row) {
			continue
		}
		msg, err := encodeRow(subject, columns, row)
		if err != nil {
			return fmt.Errorf("stream: encode row for %s: %w", subject, err)
		}
		messages = append(messages, msg)
	}

	if len(messages) == 0 {
		return nil
	}

	for _, chunk := range chunkMessages(messages) {
		payload, err := marshalChunk(chunk)
		if err != nil {
			return fmt.Errorf("stream: marshal chunk for %s: %w", subject, err)
		}
		if err := s.publishAll(ctx, subject, payload); err != nil {
			return err
		}
	}

	return nil
}

// AppendProgress is a no-op: stream transports carry no watermark of their
// own, they rely entirely on the in-process progress.Store the Processor
// already advances, and tolerate replaying the last batch on crash (§4.8,
// §9's "not exactly-once" note).
func (s *Sink) AppendProgress(ctx context.Context, key progress.Key, block uint64) error {
	return nil
}

// Flush is a no-op: every Transport publishes synchronously from
// BulkInsert, so there is nothing buffered to force out.
func (s *Sink) Flush(ctx context.Context) error {
	return nil
}

// Close shuts down every transport, collecting (not short-circuiting on)
// individual close errors so one broken transport doesn't leak another's
// connection.
func (s *Sink) Close() error {
	var errs []error
	for _, t := range s.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stream: close %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sink) publishAll(ctx context.Context, subject string, payload []byte) error {
	type result struct {
		transport string
		err       error
	}
	results := make(chan result, len(s.transports))

	for _, t := range s.transports {
		t := t
		go func() {
			publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			results <- result{transport: t.Name(), err: t.Publish(publishCtx, subject, payload)}
		}()
	}

	var errs []error
	for range s.transports {
		r := <-results
		if r.err != nil {
			s.log.Error().Err(r.err).Str("transport", r.transport).Str("subject", subject).Msg("stream publish failed")
			errs = append(errs, fmt.Errorf("%s: %w", r.transport, r.err))
		}
	}
	return errors.Join(errs...)
}

// envelopeOverhead is the marshalled size of a chunkEnvelope with an empty
// batch: its field names plus a 36-character uuid chunk id.
const envelopeOverhead = len(`{"chunk_id":"","batch":[]}`) + 36

func chunkMessages(messages []Message) [][]Message {
	var chunks [][]Message
	var current []Message
	size := envelopeOverhead

	for _, m := range messages {
		estimate := estimateSize(m) + 1 // separating comma
		if size+estimate > maxPayloadBytes && len(current) > 0 {
			chunks = append(chunks, current)
			current = nil
			size = envelopeOverhead
		}
		current = append(current, m)
		size += estimate
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func estimateSize(m Message) int {
	raw, err := m.marshal()
	if err != nil {
		return 0
	}
	return len(raw)
}

func marshalChunk(chunk []Message) ([]byte, error) {
	return newChunkEnvelope(chunk).marshal()
}
