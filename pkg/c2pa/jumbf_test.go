package c2pa

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// JUMBF Box Tests
// =============================================================================

func TestU_JUMBF_StoreBoxRoundTrip(t *testing.T) {
	payload := []byte{0xA1, 0x61, 0x61, 0x01}
	box := encodeStoreBox(payload)

	assert.Equal(t, "jumb", string(box[4:8]))
	assert.Equal(t, uint32(len(box)), binary.BigEndian.Uint32(box[:4]))

	got, err := decodeStoreBox(box)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestU_JUMBF_DescriptionLabel(t *testing.T) {
	box := encodeStoreBox([]byte{0})
	assert.True(t, bytes.Contains(box, []byte("jumd")))
	assert.True(t, bytes.Contains(box, append([]byte("c2pa"), 0)))
}

func TestU_JUMBF_ReadBoxSizes(t *testing.T) {
	// LBox 0 runs to the end of the data
	data := append([]byte{0, 0, 0, 0}, []byte("cbor")...)
	data = append(data, 1, 2, 3)
	b, rest, err := readBox(data)
	require.NoError(t, err)
	assert.Equal(t, "cbor", b.Type)
	assert.Equal(t, []byte{1, 2, 3}, b.Payload)
	assert.Empty(t, rest)

	// LBox 1 uses the 64-bit XLBox
	ext := append([]byte{0, 0, 0, 1}, []byte("cbor")...)
	ext = binary.BigEndian.AppendUint64(ext, 18)
	ext = append(ext, 9, 8, 0xFF)
	b, rest, err = readBox(ext)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, b.Payload)
	assert.Equal(t, []byte{0xFF}, rest)
}

func TestU_JUMBF_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{0, 0, 0}},
		{"length overrun", append([]byte{0, 0, 0, 64}, []byte("jumb")...)},
		{"wrong outer type", appendBox(nil, "free", []byte{1})},
		{"missing description", appendBox(nil, "jumb", appendBox(nil, "cbor", []byte{1}))},
		{"wrong uuid", appendBox(nil, "jumb", appendBox(nil, "jumd", make([]byte, 20)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeStoreBox(tt.data)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestU_JUMBF_NoContentBox(t *testing.T) {
	box := encodeStoreBox([]byte{1})
	// Rename the content box so only the description remains recognisable.
	idx := bytes.LastIndex(box, []byte("cbor"))
	require.Positive(t, idx)
	copy(box[idx:], "json")

	_, err := decodeStoreBox(box)
	assert.ErrorIs(t, err, ErrInvalidManifest)
}
