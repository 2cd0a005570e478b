package c2pa

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const (
	chunkIHDR  = "IHDR"
	chunkC2PA  = "caBX"
	chunkITXt  = "iTXt"
	xmpKeyword = "XML:com.adobe.xmp"

	// maxXMPPacket bounds the inflated size of a compressed XMP chunk.
	maxXMPPacket = 1 << 20
)

type pngChunk struct {
	typ  string
	data []byte
	raw  []byte // length, type, data and CRC
}

func parsePNG(data []byte) ([]pngChunk, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, fmt.Errorf("%w: missing PNG signature", ErrInvalidAsset)
	}

	var chunks []pngChunk
	pos := len(pngSignature)
	for pos < len(data) {
		if pos+12 > len(data) {
			return nil, fmt.Errorf("%w: truncated PNG chunk", ErrInvalidAsset)
		}
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		end := pos + 12 + length
		if length < 0 || end > len(data) {
			return nil, fmt.Errorf("%w: PNG chunk overruns file", ErrInvalidAsset)
		}
		typ := string(data[pos+4 : pos+8])
		chunks = append(chunks, pngChunk{typ: typ, data: data[pos+8 : pos+8+length], raw: data[pos:end]})
		pos = end
		if typ == "IEND" {
			break
		}
	}

	if len(chunks) == 0 || chunks[0].typ != chunkIHDR {
		return nil, fmt.Errorf("%w: PNG does not start with IHDR", ErrInvalidAsset)
	}
	return chunks, nil
}

func appendPNGChunk(dst []byte, typ string, data []byte) []byte {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
	copy(hdr[4:], typ)
	dst = append(dst, hdr[:]...)
	dst = append(dst, data...)

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:])
	crc.Write(data)
	return binary.BigEndian.AppendUint32(dst, crc.Sum32())
}

type pngContainer struct{}

func (pngContainer) extract(asset []byte) ([]byte, string, error) {
	chunks, err := parsePNG(asset)
	if err != nil {
		return nil, "", err
	}

	var store []byte
	var remote string
	for _, c := range chunks {
		switch c.typ {
		case chunkC2PA:
			if store == nil {
				store = c.data
			}
		case chunkITXt:
			if xmp, ok := xmpFromITXt(c.data); ok {
				if url := provenanceFromXMP(xmp); url != "" {
					remote = url
				}
			}
		}
	}
	return store, remote, nil
}

func (pngContainer) strip(asset []byte) ([]byte, error) {
	chunks, err := parsePNG(asset)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(asset))
	out = append(out, pngSignature...)
	for _, c := range chunks {
		if c.typ == chunkC2PA {
			continue
		}
		out = append(out, c.raw...)
	}
	return out, nil
}

func (pngContainer) embed(asset, store []byte) ([]byte, error) {
	chunks, err := parsePNG(asset)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(asset)+len(store)+12)
	out = append(out, pngSignature...)
	out = append(out, chunks[0].raw...)
	out = appendPNGChunk(out, chunkC2PA, store)
	for _, c := range chunks[1:] {
		out = append(out, c.raw...)
	}
	return out, nil
}

// xmpFromITXt returns the text of an iTXt chunk holding XMP.
func xmpFromITXt(data []byte) ([]byte, bool) {
	keyword, rest, ok := bytes.Cut(data, []byte{0})
	if !ok || string(keyword) != xmpKeyword || len(rest) < 2 {
		return nil, false
	}
	compressed := rest[0] == 1
	rest = rest[2:]

	// language tag and translated keyword
	for i := 0; i < 2; i++ {
		_, rest, ok = bytes.Cut(rest, []byte{0})
		if !ok {
			return nil, false
		}
	}

	if !compressed {
		return rest, true
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	text, err := io.ReadAll(io.LimitReader(zr, maxXMPPacket+1))
	if err != nil || len(text) > maxXMPPacket {
		return nil, false
	}
	return text, true
}
