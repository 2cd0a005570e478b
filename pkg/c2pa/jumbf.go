package c2pa

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// JUMBF box types (ISO/IEC 19566-5).
const (
	boxTypeSuperbox    = "jumb"
	boxTypeDescription = "jumd"
	boxTypeCBOR        = "cbor"
)

// storeLabel is the description label of a C2PA manifest store superbox.
const storeLabel = "c2pa"

// uuidManifestStore is the JUMBF type of a C2PA manifest store
// ("c2pa" followed by the ISO suffix).
var uuidManifestStore = [16]byte{
	0x63, 0x32, 0x70, 0x61, 0x00, 0x11, 0x00, 0x10,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

// description toggles: requestable | label present.
const descToggles = 0x03

// box is one ISO BMFF style box.
type box struct {
	Type    string
	Payload []byte
}

func appendBox(dst []byte, typ string, payload []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(8+len(payload)))
	copy(hdr[4:], typ)
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// readBox reads one box from data and returns it with the remaining bytes.
func readBox(data []byte) (box, []byte, error) {
	if len(data) < 8 {
		return box{}, nil, fmt.Errorf("%w: truncated box header", ErrInvalidManifest)
	}
	size := uint64(binary.BigEndian.Uint32(data[:4]))
	typ := string(data[4:8])
	hdr := uint64(8)

	switch size {
	case 0:
		size = uint64(len(data))
	case 1:
		if len(data) < 16 {
			return box{}, nil, fmt.Errorf("%w: truncated extended box header", ErrInvalidManifest)
		}
		size = binary.BigEndian.Uint64(data[8:16])
		hdr = 16
	}

	if size < hdr || size > uint64(len(data)) {
		return box{}, nil, fmt.Errorf("%w: box %q length %d out of range", ErrInvalidManifest, typ, size)
	}
	return box{Type: typ, Payload: data[hdr:size]}, data[size:], nil
}

// encodeStoreBox frames the CBOR store document as a JUMBF superbox.
func encodeStoreBox(store []byte) []byte {
	desc := make([]byte, 0, 16+1+len(storeLabel)+1)
	desc = append(desc, uuidManifestStore[:]...)
	desc = append(desc, descToggles)
	desc = append(desc, storeLabel...)
	desc = append(desc, 0)

	var inner []byte
	inner = appendBox(inner, boxTypeDescription, desc)
	inner = appendBox(inner, boxTypeCBOR, store)

	return appendBox(nil, boxTypeSuperbox, inner)
}

// decodeStoreBox unwraps the CBOR store document from a JUMBF superbox.
func decodeStoreBox(data []byte) ([]byte, error) {
	outer, _, err := readBox(data)
	if err != nil {
		return nil, err
	}
	if outer.Type != boxTypeSuperbox {
		return nil, fmt.Errorf("%w: expected %q box, got %q", ErrInvalidManifest, boxTypeSuperbox, outer.Type)
	}

	desc, rest, err := readBox(outer.Payload)
	if err != nil {
		return nil, err
	}
	if desc.Type != boxTypeDescription || len(desc.Payload) < 17 {
		return nil, fmt.Errorf("%w: missing description box", ErrInvalidManifest)
	}
	if !bytes.Equal(desc.Payload[:16], uuidManifestStore[:]) {
		return nil, fmt.Errorf("%w: not a C2PA manifest store", ErrInvalidManifest)
	}

	for len(rest) > 0 {
		var b box
		b, rest, err = readBox(rest)
		if err != nil {
			return nil, err
		}
		if b.Type == boxTypeCBOR {
			return b.Payload, nil
		}
	}
	return nil, fmt.Errorf("%w: no cbor content box", ErrInvalidManifest)
}
