// Package line implements C2: the newline-delimited JSON channel
// between Server and Bridge over the local stream socket, including the
// opportunistic gzip "compressed" envelope (spec §4.2, §6).
package line

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ChunkThreshold is the serialized-length threshold past which the
// writer attempts gzip compression (spec §4.2: 786432 bytes).
const ChunkThreshold = 786432

// Reader decodes newline-delimited JSON, transparently unwrapping
// {type:'compressed', data:<base64 gzip>} envelopes before handing the
// raw JSON body to the caller. Nested envelopes are not supported
// (spec §4.2).
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r. The scanner's buffer is grown to accommodate
// records up to the chunk threshold plus slack for base64/gzip overhead.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), ChunkThreshold*2)
	return &Reader{scanner: s}
}

// Next returns the next decoded (and, if necessary, decompressed) JSON
// record body, skipping blank lines, or io.EOF when the stream ends.
func (r *Reader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue // empty lines are silently skipped
		}
		out := make([]byte, len(line))
		copy(out, line)
		return unwrapCompressed(out)
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("line: scan: %w", err)
	}
	return nil, io.EOF
}

type compressedEnvelope struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

func unwrapCompressed(raw []byte) ([]byte, error) {
	var env compressedEnvelope
	// A parse failure here just means "not JSON at all" — let the
	// caller's own Decode surface that error; we only special-case the
	// compressed envelope shape.
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != "compressed" {
		return raw, nil
	}

	gz, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, fmt.Errorf("line: base64 decode compressed envelope: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, fmt.Errorf("line: gzip reader: %w", err)
	}
	defer zr.Close()
	body, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("line: gzip read: %w", err)
	}
	return body, nil
}

// Writer appends '\n' after every serialized record and opportunistically
// gzip-wraps large outbound records (Bridge-side only per spec §4.2).
type Writer struct {
	w io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

// WriteRaw writes a pre-serialized JSON body verbatim, newline-terminated.
func (w *Writer) WriteRaw(body []byte) error {
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("line: write: %w", err)
	}
	if _, err := w.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("line: write newline: %w", err)
	}
	return nil
}

// Write serializes value to JSON and writes it. If the serialized form
// exceeds ChunkThreshold, it is gzip-compressed and, only when strictly
// smaller than the original, wrapped in a compressed envelope; otherwise
// the original is sent verbatim (spec §4.2).
func (w *Writer) Write(value interface{}) error {
	body, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("line: marshal: %w", err)
	}
	return w.WriteCompressIfLarge(body)
}

// WriteCompressIfLarge applies the same size-driven compression policy
// as Write but takes an already-serialized body — used by the Bridge
// when forwarding records it merely relays.
func (w *Writer) WriteCompressIfLarge(body []byte) error {
	if len(body) <= ChunkThreshold {
		return w.WriteRaw(body)
	}

	compressed, err := Compress(body)
	if err != nil {
		return fmt.Errorf("line: compress: %w", err)
	}
	if len(compressed) >= len(body) {
		return w.WriteRaw(body)
	}

	env := compressedEnvelope{Type: "compressed", Data: base64.StdEncoding.EncodeToString(compressed)}
	envBody, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("line: marshal envelope: %w", err)
	}
	return w.WriteRaw(envBody)
}

// Compress gzip-compresses body and returns the raw (non-base64) bytes.
func Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(gz []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
