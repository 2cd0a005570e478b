package c2pa

import (
	"fmt"
	"regexp"
	"strings"
)

// container reads and writes manifest stores inside one asset format.
type container interface {
	// extract returns the embedded JUMBF store (nil when absent) and the
	// remote manifest URL advertised in XMP (empty when absent).
	extract(asset []byte) (store []byte, remoteURL string, err error)

	// strip returns the asset without its embedded manifest store.
	strip(asset []byte) ([]byte, error)

	// embed inserts a JUMBF store into an asset that carries none.
	embed(asset, store []byte) ([]byte, error)
}

var containers = map[string]container{
	"image/jpeg": jpegContainer{},
	"image/png":  pngContainer{},
}

var formatAliases = map[string]string{
	"jpg":       "image/jpeg",
	"jpeg":      "image/jpeg",
	"image/jpg": "image/jpeg",
	"png":       "image/png",
}

// NormalizeFormat maps a MIME type or file extension to the canonical MIME
// type used by the engine.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	f = strings.TrimPrefix(f, ".")
	if canonical, ok := formatAliases[f]; ok {
		return canonical
	}
	return f
}

// SupportedFormats returns the canonical MIME types the engine can embed
// into and read from.
func SupportedFormats() []string {
	return []string{"image/jpeg", "image/png"}
}

func containerFor(format string) (string, container, error) {
	mime := NormalizeFormat(format)
	c, ok := containers[mime]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return mime, c, nil
}

// xmpProvenance matches the dcterms:provenance property in attribute or
// element form.
var xmpProvenance = regexp.MustCompile(`dcterms:provenance(?:="([^"]*)"|>([^<]*)</dcterms:provenance>)`)

// provenanceFromXMP returns the remote manifest URL declared in an XMP packet.
func provenanceFromXMP(xmp []byte) string {
	m := xmpProvenance.FindSubmatch(xmp)
	if m == nil {
		return ""
	}
	if len(m[1]) > 0 {
		return strings.TrimSpace(string(m[1]))
	}
	return strings.TrimSpace(string(m[2]))
}
