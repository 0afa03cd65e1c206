// Package chunk implements the protocol-defined splitting and
// reassembly of records whose serialized size exceeds the C1
// framed-transport cap (spec §6, §8 property 2).
package chunk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/viyv-labs/browser-bridge/internal/transport/line"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// MaxChunkSize bounds the base64 payload carried by a single chunk
// record. It equals the C2 compression threshold, which keeps a whole
// chunk record well under the C1 1 MiB frame cap, so a chunk record
// itself is never re-chunked.
const MaxChunkSize = line.ChunkThreshold

// Split divides body into one or more protocol.Chunk records sharing a
// freshly minted requestId. If gzip of the whole payload is strictly
// smaller than body, the compressed form is chunked instead and
// Compressed is set true on every chunk; decompression happens only
// after full reassembly (spec §6). Each chunk's Data is a base64 slice
// of the (possibly compressed) payload so arbitrary binary content
// survives JSON string encoding intact.
func Split(agentID string, body []byte) ([]*protocol.Chunk, error) {
	requestID := uuid.NewString()

	payload := body
	compressed := false
	if gz, err := line.Compress(body); err == nil && len(gz) < len(body) {
		payload = gz
		compressed = true
	}

	encoded := base64.StdEncoding.EncodeToString(payload)
	total := len(encoded)
	n := (total + MaxChunkSize - 1) / MaxChunkSize
	if n == 0 {
		n = 1
	}

	chunks := make([]*protocol.Chunk, 0, n)
	for i := 0; i < n; i++ {
		start := i * MaxChunkSize
		end := start + MaxChunkSize
		if end > total {
			end = total
		}
		data, err := json.Marshal(encoded[start:end])
		if err != nil {
			return nil, fmt.Errorf("chunk: marshal slice: %w", err)
		}
		chunks = append(chunks, &protocol.Chunk{
			Type:        protocol.TypeChunk,
			RequestID:   requestID,
			AgentID:     agentID,
			ChunkIndex:  i,
			TotalChunks: n,
			TotalSize:   len(payload),
			Compressed:  compressed,
			Data:        data,
		})
	}
	return chunks, nil
}
