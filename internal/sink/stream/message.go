// Package stream contains Sink implementations that publish decoded
// batches to a message transport (NATS JetStream, Kafka) instead of
// writing them into a queryable table, for consumers that want to react
// to events rather than scan a database.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chainkit/evmindexer/internal/codec"
)

// Message is the JSON envelope published for one decoded log, independent
// of which transport carries it.
type Message struct {
	Table   string                 `json:"table"`
	Columns []string               `json:"columns"`
	Values  map[string]interface{} `json:"values"`
}

func encodeRow(table string, columns []string, row []codec.Variant) (Message, error) {
	values := make(map[string]interface{}, len(columns))
	for i, v := range row {
		jv, err := codec.JSONValue(v)
		if err != nil {
			return Message{}, fmt.Errorf("stream: encode column %s: %w", columns[i], err)
		}
		values[columns[i]] = jv
	}
	return Message{Table: table, Columns: columns, Values: values}, nil
}

func (m Message) marshal() ([]byte, error) {
	return json.Marshal(m)
}

// chunkEnvelope wraps one or more Messages that were batched together to
// stay under a transport's payload-size limit (§4.8). ChunkID is a random
// correlation id a downstream consumer can log alongside its own
// processing of the batch. Transport-level dedup is keyed off the whole
// marshalled payload, ChunkID included.
type chunkEnvelope struct {
	ChunkID string    `json:"chunk_id"`
	Batch   []Message `json:"batch"`
}

func newChunkEnvelope(batch []Message) chunkEnvelope {
	return chunkEnvelope{ChunkID: uuid.NewString(), Batch: batch}
}

func (c chunkEnvelope) marshal() ([]byte, error) {
	return json.Marshal(c)
}
