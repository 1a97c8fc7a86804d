package metadb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// CompressionThreshold is the minimum payload size before compression is
	// considered. zstd overhead is not worth it for smaller payloads.
	CompressionThreshold = 2048

	// MaxPayloadSize is the maximum allowed uncompressed payload size.
	MaxPayloadSize = 10 * 1024 * 1024 // 10MB

	// MaxDecompressedSize is the hard cap during decompression to prevent
	// compression bombs.
	MaxDecompressedSize = 10 * 1024 * 1024 // 10MB

	// CurrentEnvelopeVersion is the current envelope schema version.
	CurrentEnvelopeVersion = 1

	// EncodingIdentity marks an uncompressed payload.
	EncodingIdentity = "identity"

	// EncodingZstd marks a zstd-compressed payload.
	EncodingZstd = "zstd"
)

var (
	// ErrPayloadTooLarge is returned when payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")

	// ErrDecompressionBomb is returned when decompressed size exceeds limit.
	ErrDecompressionBomb = errors.New("decompressed payload exceeds maximum size")

	// ErrCorrupted is returned when payload digest verification fails.
	ErrCorrupted = errors.New("payload digest mismatch")
)

// Envelope wraps a stored document with encoding, integrity, and expiry
// metadata. Envelopes are persisted as JSON values in the docs bucket.
type Envelope struct {
	Version         int    `json:"v"`
	Encoding        string `json:"encoding"`
	Payload         []byte `json:"payload"`
	Digest          string `json:"digest"`
	Size            uint64 `json:"size"`
	FetchedAtUnixMs int64  `json:"fetched_at_ms"`
	ExpiresAtUnixMs int64  `json:"expires_at_ms,omitempty"`
	TTLSeconds      int64  `json:"ttl_seconds,omitempty"`
}

// Expired reports whether the envelope's TTL has elapsed at the given time.
// Envelopes without an expiry never expire.
func (e *Envelope) Expired(now time.Time) bool {
	if e.ExpiresAtUnixMs == 0 {
		return false
	}
	return now.UnixMilli() > e.ExpiresAtUnixMs
}

// ExpiresAt returns the expiry time, or the zero time if none is set.
func (e *Envelope) ExpiresAt() time.Time {
	if e.ExpiresAtUnixMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.ExpiresAtUnixMs).UTC()
}

// Codec handles payload encoding/decoding with optional zstd compression.
// Encoder and decoder are goroutine-safe and reused across calls.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mu      sync.RWMutex
}

// NewCodec creates a new codec with pooled zstd encoder/decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	return &Codec{
		encoder: enc,
		decoder: dec,
	}, nil
}

// Close releases encoder/decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// EncodePayload compresses the payload if beneficial and returns the encoded
// bytes with the encoding name. Also computes the digest of the original
// (uncompressed) payload.
func (c *Codec) EncodePayload(data []byte) (payload []byte, encoding string, digest string, err error) {
	if len(data) > MaxPayloadSize {
		return nil, EncodingIdentity, "", ErrPayloadTooLarge
	}

	digest = computeDigest(data)

	if len(data) < CompressionThreshold {
		return data, EncodingIdentity, digest, nil
	}

	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()

	if enc == nil {
		return data, EncodingIdentity, digest, nil
	}

	compressed := enc.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, EncodingIdentity, digest, nil
	}

	return compressed, EncodingZstd, digest, nil
}

// DecodePayload decompresses the payload if needed and verifies the digest.
func (c *Codec) DecodePayload(payload []byte, encoding string, expectedDigest string, expectedSize uint64) ([]byte, error) {
	if encoding == EncodingIdentity || encoding == "" {
		if expectedDigest != "" && computeDigest(payload) != expectedDigest {
			return nil, ErrCorrupted
		}
		return payload, nil
	}

	if encoding != EncodingZstd {
		return nil, fmt.Errorf("unsupported encoding: %q", encoding)
	}

	if expectedSize > MaxDecompressedSize {
		return nil, ErrDecompressionBomb
	}

	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()

	if dec == nil {
		return nil, errors.New("decoder not initialized")
	}

	decompressed, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}

	if uint64(len(decompressed)) > MaxDecompressedSize {
		return nil, ErrDecompressionBomb
	}

	if expectedDigest != "" && computeDigest(decompressed) != expectedDigest {
		return nil, ErrCorrupted
	}

	return decompressed, nil
}

// computeDigest computes a sha256 digest in canonical format.
func computeDigest(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
