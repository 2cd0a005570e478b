package c2pa

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// JPEG markers.
const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerAPP0  = 0xE0
	markerAPP1  = 0xE1
	markerAPP11 = 0xEB
)

// APP11 JUMBF segment layout: "JP" common identifier, box instance (En),
// packet sequence (Z), then box bytes.
const (
	app11HeaderSize = 8
	maxSegmentData  = 0xFFFF - 2
	firstChunkSize  = maxSegmentData - app11HeaderSize
	nextChunkSize   = maxSegmentData - app11HeaderSize - 8
)

var (
	jumbfCI   = []byte("JP")
	xmpPrefix = []byte("http://ns.adobe.com/xap/1.0/\x00")
)

type jpegSegment struct {
	marker byte
	raw    []byte // marker and length included
}

func (s jpegSegment) payload() []byte {
	if len(s.raw) < 4 {
		return nil
	}
	return s.raw[4:]
}

func (s jpegSegment) isJUMBF() bool {
	return s.marker == markerAPP11 && bytes.HasPrefix(s.payload(), jumbfCI) && len(s.payload()) >= app11HeaderSize
}

// parseJPEG splits a JPEG into its header segments and the remainder
// starting at the first SOS marker.
func parseJPEG(data []byte) ([]jpegSegment, []byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil, nil, fmt.Errorf("%w: missing JPEG SOI marker", ErrInvalidAsset)
	}

	var segments []jpegSegment
	pos := 2
	for pos < len(data) {
		if data[pos] != 0xFF {
			return nil, nil, fmt.Errorf("%w: expected JPEG marker at offset %d", ErrInvalidAsset, pos)
		}
		start := pos
		for pos < len(data) && data[pos] == 0xFF {
			pos++
		}
		if pos >= len(data) {
			return nil, nil, fmt.Errorf("%w: truncated JPEG marker", ErrInvalidAsset)
		}
		marker := data[pos]
		pos++

		if marker == markerSOS || marker == markerEOI {
			return segments, data[start:], nil
		}
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7) {
			segments = append(segments, jpegSegment{marker: marker, raw: data[start:pos]})
			continue
		}

		if pos+2 > len(data) {
			return nil, nil, fmt.Errorf("%w: truncated JPEG segment length", ErrInvalidAsset)
		}
		length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		if length < 2 || pos+length > len(data) {
			return nil, nil, fmt.Errorf("%w: JPEG segment 0x%02X overruns file", ErrInvalidAsset, marker)
		}
		pos += length
		// Normalise fill bytes away so raw always starts with a single 0xFF.
		raw := append([]byte{0xFF, marker}, data[pos-length:pos]...)
		segments = append(segments, jpegSegment{marker: marker, raw: raw})
	}
	return nil, nil, fmt.Errorf("%w: JPEG has no image data", ErrInvalidAsset)
}

type jpegContainer struct{}

func (jpegContainer) extract(asset []byte) ([]byte, string, error) {
	segments, _, err := parseJPEG(asset)
	if err != nil {
		return nil, "", err
	}

	type packet struct {
		seq  uint32
		data []byte
	}
	boxes := map[uint16][]packet{}
	var order []uint16
	var remote string

	for _, seg := range segments {
		switch {
		case seg.isJUMBF():
			p := seg.payload()
			en := binary.BigEndian.Uint16(p[2:4])
			z := binary.BigEndian.Uint32(p[4:8])
			data := p[app11HeaderSize:]
			if z > 1 {
				if len(data) < 8 {
					return nil, "", fmt.Errorf("%w: truncated JUMBF continuation", ErrInvalidManifest)
				}
				data = data[8:]
			}
			if _, seen := boxes[en]; !seen {
				order = append(order, en)
			}
			boxes[en] = append(boxes[en], packet{seq: z, data: data})
		case seg.marker == markerAPP1 && bytes.HasPrefix(seg.payload(), xmpPrefix):
			if url := provenanceFromXMP(seg.payload()[len(xmpPrefix):]); url != "" {
				remote = url
			}
		}
	}

	for _, en := range order {
		packets := boxes[en]
		sort.SliceStable(packets, func(i, j int) bool { return packets[i].seq < packets[j].seq })
		var store []byte
		for _, p := range packets {
			store = append(store, p.data...)
		}
		if _, err := decodeStoreBox(store); err == nil {
			return store, remote, nil
		}
	}
	return nil, remote, nil
}

func (jpegContainer) strip(asset []byte) ([]byte, error) {
	segments, tail, err := parseJPEG(asset)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(asset))
	out = append(out, 0xFF, markerSOI)
	for _, seg := range segments {
		if seg.isJUMBF() {
			continue
		}
		out = append(out, seg.raw...)
	}
	return append(out, tail...), nil
}

func (jpegContainer) embed(asset, store []byte) ([]byte, error) {
	segments, tail, err := parseJPEG(asset)
	if err != nil {
		return nil, err
	}

	// The manifest goes after the leading JFIF/Exif/XMP application segments.
	insertAt := 0
	for insertAt < len(segments) && (segments[insertAt].marker == markerAPP0 || segments[insertAt].marker == markerAPP1) {
		insertAt++
	}

	out := make([]byte, 0, len(asset)+len(store)+len(store)/firstChunkSize*24+32)
	out = append(out, 0xFF, markerSOI)
	for _, seg := range segments[:insertAt] {
		out = append(out, seg.raw...)
	}
	out = appendJUMBFSegments(out, store)
	for _, seg := range segments[insertAt:] {
		out = append(out, seg.raw...)
	}
	return append(out, tail...), nil
}

// appendJUMBFSegments writes store as a run of APP11 segments with box
// instance 1. Continuation segments repeat the superbox LBox/TBox header.
func appendJUMBFSegments(dst, store []byte) []byte {
	header := store[:8]
	remaining := store
	seq := uint32(1)
	for len(remaining) > 0 {
		limit := firstChunkSize
		var repeat []byte
		if seq > 1 {
			limit = nextChunkSize
			repeat = header
		}
		n := min(len(remaining), limit)

		segLen := 2 + app11HeaderSize + len(repeat) + n
		var hdr [12]byte
		hdr[0], hdr[1] = 0xFF, markerAPP11
		binary.BigEndian.PutUint16(hdr[2:4], uint16(segLen))
		copy(hdr[4:6], jumbfCI)
		binary.BigEndian.PutUint16(hdr[6:8], 1)
		binary.BigEndian.PutUint32(hdr[8:12], seq)

		dst = append(dst, hdr[:]...)
		dst = append(dst, repeat...)
		dst = append(dst, remaining[:n]...)
		remaining = remaining[n:]
		seq++
	}
	return dst
}
