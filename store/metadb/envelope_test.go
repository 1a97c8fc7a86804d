package metadb

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCodecSmallPayloadIdentity(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	data := []byte("small payload")

	payload, encoding, digest, err := codec.EncodePayload(data)
	require.NoError(t, err)
	require.Equal(t, EncodingIdentity, encoding)
	require.Equal(t, data, payload)
	require.Contains(t, digest, "sha256:")

	decoded, err := codec.DecodePayload(payload, encoding, digest, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestCodecLargePayloadCompressed(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	data := bytes.Repeat([]byte("wordpress release metadata "), 500)
	require.Greater(t, len(data), CompressionThreshold)

	payload, encoding, digest, err := codec.EncodePayload(data)
	require.NoError(t, err)
	require.Equal(t, EncodingZstd, encoding)
	require.Less(t, len(payload), len(data))

	decoded, err := codec.DecodePayload(payload, encoding, digest, uint64(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestCodecCorruptionDetected(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	data := []byte("payload to corrupt")

	payload, encoding, digest, err := codec.EncodePayload(data)
	require.NoError(t, err)

	tampered := append([]byte(nil), payload...)
	tampered[0] ^= 0xff

	_, err = codec.DecodePayload(tampered, encoding, digest, uint64(len(data)))
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestCodecPayloadTooLarge(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	data := make([]byte, MaxPayloadSize+1)

	_, _, _, err = codec.EncodePayload(data)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestCodecUnsupportedEncoding(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.DecodePayload([]byte("x"), "gzip", "", 1)
	require.Error(t, err)
}

func TestEnvelopeExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	env := Envelope{ExpiresAtUnixMs: now.Add(time.Minute).UnixMilli()}
	require.False(t, env.Expired(now))
	require.True(t, env.Expired(now.Add(2*time.Minute)))

	noExpiry := Envelope{}
	require.False(t, noExpiry.Expired(now.Add(1000*time.Hour)))
	require.True(t, noExpiry.ExpiresAt().IsZero())
}
