package c2pa

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Manifest accumulates the content of one new manifest before it is signed
// and embedded. A Manifest is not safe for concurrent use.
type Manifest struct {
	ClaimGenerator string
	Title          string

	assertions []labeledAssertion
	thumbnail  *thumbnail
	parent     *Ingredient
}

type labeledAssertion struct {
	label string
	data  []byte
}

type thumbnail struct {
	format string
	data   []byte
}

var thumbnailExt = map[string]string{
	"image/jpeg":    "jpeg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
}

// isReservedLabel reports labels the engine writes itself.
func isReservedLabel(label string) bool {
	return label == LabelIngredient ||
		strings.HasPrefix(label, "c2pa.hash.") ||
		strings.HasPrefix(label, LabelThumbnailPrefix)
}

// NewManifest returns an empty manifest with the given claim generator.
func NewManifest(generator string) *Manifest {
	return &Manifest{ClaimGenerator: generator}
}

// AddLabeledAssertion appends an assertion. The value must be encodable as
// CBOR (JSON-decoded values always are). Insertion order is preserved.
func (m *Manifest) AddLabeledAssertion(label string, value any) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return NewEngineError("assertion", fmt.Errorf("%w: empty label", ErrInvalidAssertion))
	}
	if isReservedLabel(label) {
		return NewEngineError("assertion", fmt.Errorf("%w: label %q is reserved", ErrInvalidAssertion, label))
	}

	data, err := encMode.Marshal(value)
	if err != nil {
		return NewEngineError("assertion", fmt.Errorf("%w: %s: %v", ErrInvalidAssertion, label, err))
	}
	m.assertions = append(m.assertions, labeledAssertion{label: label, data: data})
	return nil
}

// SetThumbnail sets the claim thumbnail, replacing any previous one.
func (m *Manifest) SetThumbnail(format string, data []byte) error {
	mime := NormalizeFormat(format)
	if _, ok := thumbnailExt[mime]; !ok {
		return NewEngineError("thumbnail", fmt.Errorf("%w: unsupported format %q", ErrInvalidThumbnail, format))
	}
	if len(data) == 0 {
		return NewEngineError("thumbnail", fmt.Errorf("%w: empty thumbnail", ErrInvalidThumbnail))
	}
	m.thumbnail = &thumbnail{format: mime, data: append([]byte(nil), data...)}
	return nil
}

// SetParent records the ingredient the new asset is derived from. Its
// manifests are carried into the new store.
func (m *Manifest) SetParent(ingredient *Ingredient) error {
	if ingredient == nil {
		return NewEngineError("ingredient", errors.New("nil parent ingredient"))
	}
	m.parent = ingredient
	return nil
}

// Parent returns the parent ingredient, if any.
func (m *Manifest) Parent() *Ingredient {
	return m.parent
}

// EmbedFromMemory signs the manifest with signer and returns a copy of asset
// with the resulting manifest store embedded. Any manifest store already in
// the asset is replaced; use SetParent to preserve its history.
func (m *Manifest) EmbedFromMemory(ctx context.Context, format string, asset []byte, signer AsyncSigner) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewEngineError("embed", err)
	}

	mime, c, err := containerFor(format)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}

	stripped, err := c.strip(asset)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}

	certs, err := signer.Certs()
	if err != nil {
		return nil, NewEngineError("embed", err)
	}
	if len(certs) == 0 {
		return nil, NewEngineError("embed", ErrMissingCertificates)
	}

	record, err := m.buildRecord(mime, stripped)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}

	record.Signature, err = signClaim(ctx, record.Claim, certs, signer)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}

	doc := &storeDocument{Version: storeVersion}
	if m.parent != nil && m.parent.store != nil {
		doc.Manifests = append(doc.Manifests, m.parent.store.Manifests...)
	}
	doc.Manifests = append(doc.Manifests, *record)

	jumbf, err := encodeStore(doc)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}

	out, err := c.embed(stripped, jumbf)
	if err != nil {
		return nil, NewEngineError("embed", err)
	}
	return out, nil
}

// buildRecord assembles the assertions and the claim for a new manifest.
func (m *Manifest) buildRecord(mime string, stripped []byte) (*manifestRecord, error) {
	record := &manifestRecord{Label: "urn:uuid:" + uuid.NewString()}

	seen := map[string]int{}
	for _, a := range m.assertions {
		label := a.label
		if n := seen[a.label]; n > 0 {
			label = fmt.Sprintf("%s__%d", a.label, n)
		}
		seen[a.label]++
		record.Assertions = append(record.Assertions, assertionRecord{
			Label:       label,
			ContentType: contentTypeCBOR,
			Data:        a.data,
		})
	}

	if m.thumbnail != nil {
		record.Assertions = append(record.Assertions, assertionRecord{
			Label:       LabelThumbnailPrefix + thumbnailExt[m.thumbnail.format],
			ContentType: m.thumbnail.format,
			Data:        m.thumbnail.data,
		})
	}

	if m.parent != nil {
		data, err := encMode.Marshal(m.parent.assertion())
		if err != nil {
			return nil, err
		}
		record.Assertions = append(record.Assertions, assertionRecord{
			Label:       LabelIngredient,
			ContentType: contentTypeCBOR,
			Data:        data,
		})
	}

	sum := sha256.Sum256(stripped)
	hashData, err := encMode.Marshal(dataHashAssertion{Alg: "sha256", Hash: sum[:], Name: "jumbf manifest"})
	if err != nil {
		return nil, err
	}
	record.Assertions = append(record.Assertions, assertionRecord{
		Label:       LabelDataHash,
		ContentType: contentTypeCBOR,
		Data:        hashData,
	})

	cl := claim{
		ClaimGenerator: m.ClaimGenerator,
		Title:          m.Title,
		Format:         mime,
		InstanceID:     "xmp:iid:" + uuid.NewString(),
		Signature:      claimSignatureURI,
		Alg:            "sha256",
	}
	for _, a := range record.Assertions {
		h, err := a.hash()
		if err != nil {
			return nil, err
		}
		cl.Assertions = append(cl.Assertions, hashedURI{URL: assertionURI(a.Label), Hash: h})
	}

	claimBytes, err := encMode.Marshal(cl)
	if err != nil {
		return nil, err
	}
	record.Claim = claimBytes
	return record, nil
}
