package chunk

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/viyv-labs/browser-bridge/internal/transport/line"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// ReassemblyTimeout is the deadline for a chunk set to complete (spec
// §4.2, §6, §8 property 10).
const ReassemblyTimeout = 10 * time.Second

// ErrReassemblyFailed mirrors protocol.ErrChunkReassemblyFailed.
var ErrReassemblyFailed = fmt.Errorf("chunk: %s", protocol.ErrChunkReassemblyFailed)

type accumulator struct {
	totalChunks int
	totalSize   int
	compressed  bool
	pieces      map[int]string
	timer       *time.Timer
}

// Assembler collects chunk sets by requestId and reassembles them once
// every index has arrived, or discards them on reassembly timeout
// (spec §3 invariants, §4.2).
type Assembler struct {
	mu   sync.Mutex
	sets map[string]*accumulator

	// onComplete is invoked with the reassembled JSON body once a set
	// is whole. onTimeout is invoked (requestId only) if the deadline
	// fires first.
	onComplete func(requestID string, body []byte)
	onTimeout  func(requestID string)
}

// NewAssembler creates an Assembler. onComplete and onTimeout may be nil.
func NewAssembler(onComplete func(string, []byte), onTimeout func(string)) *Assembler {
	return &Assembler{
		sets:       make(map[string]*accumulator),
		onComplete: onComplete,
		onTimeout:  onTimeout,
	}
}

// Feed adds one chunk to its set. It returns the reassembled, decoded
// JSON body once the set is complete, or (nil, nil) while more chunks
// are still expected. TotalChunks must be ≥ 1 (spec invariant).
func (a *Assembler) Feed(c *protocol.Chunk) ([]byte, error) {
	if c.TotalChunks < 1 {
		return nil, fmt.Errorf("chunk: invalid totalChunks %d: %w", c.TotalChunks, ErrReassemblyFailed)
	}

	a.mu.Lock()
	acc, ok := a.sets[c.RequestID]
	if !ok {
		acc = &accumulator{
			totalChunks: c.TotalChunks,
			totalSize:   c.TotalSize,
			compressed:  c.Compressed,
			pieces:      make(map[int]string, c.TotalChunks),
		}
		a.sets[c.RequestID] = acc
		reqID := c.RequestID
		acc.timer = time.AfterFunc(ReassemblyTimeout, func() {
			a.expire(reqID)
		})
	}

	if acc.totalChunks != c.TotalChunks || acc.totalSize != c.TotalSize || acc.compressed != c.Compressed {
		a.mu.Unlock()
		return nil, fmt.Errorf("chunk: mismatched chunk-set metadata for %s: %w", c.RequestID, ErrReassemblyFailed)
	}

	var piece string
	if err := json.Unmarshal(c.Data, &piece); err != nil {
		a.mu.Unlock()
		return nil, fmt.Errorf("chunk: decode chunk data: %w", err)
	}
	acc.pieces[c.ChunkIndex] = piece

	if len(acc.pieces) < acc.totalChunks {
		a.mu.Unlock()
		return nil, nil
	}

	delete(a.sets, c.RequestID)
	if acc.timer != nil {
		acc.timer.Stop()
	}
	a.mu.Unlock()

	body, err := reassemble(acc)
	if err == nil && a.onComplete != nil {
		a.onComplete(c.RequestID, body)
	}
	return body, err
}

func reassemble(acc *accumulator) ([]byte, error) {
	var encoded string
	for i := 0; i < acc.totalChunks; i++ {
		piece, ok := acc.pieces[i]
		if !ok {
			return nil, fmt.Errorf("chunk: missing index %d: %w", i, ErrReassemblyFailed)
		}
		encoded += piece
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("chunk: base64 decode reassembled payload: %w", err)
	}

	if acc.compressed {
		payload, err = line.Decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("chunk: gzip decode reassembled payload: %w", err)
		}
	}

	var probe interface{}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("chunk: reassembled payload is not valid JSON: %w", err)
	}
	return payload, nil
}

func (a *Assembler) expire(requestID string) {
	a.mu.Lock()
	_, ok := a.sets[requestID]
	if ok {
		delete(a.sets, requestID)
	}
	a.mu.Unlock()

	if ok && a.onTimeout != nil {
		a.onTimeout(requestID)
	}
}

// Pending reports how many chunk sets are currently in flight — used by
// tests and diagnostics.
func (a *Assembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sets)
}
