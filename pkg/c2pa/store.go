package c2pa

import (
	"crypto/sha256"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Well-known assertion labels.
const (
	LabelDataHash        = "c2pa.hash.data"
	LabelIngredient      = "c2pa.ingredient"
	LabelThumbnailPrefix = "c2pa.thumbnail.claim."

	// RelationshipParentOf marks the ingredient an asset was derived from.
	RelationshipParentOf = "parentOf"
)

const (
	contentTypeCBOR   = "application/cbor"
	claimSignatureURI = "self#jumbf=c2pa.signature"
	assertionURIBase  = "self#jumbf=c2pa.assertions/"
	manifestURIBase   = "self#jumbf=/c2pa/"
	storeVersion      = 1
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// storeDocument is the CBOR payload of the manifest store box. The last
// manifest is the active one.
type storeDocument struct {
	Version   int              `cbor:"version"`
	Manifests []manifestRecord `cbor:"manifests"`
}

type manifestRecord struct {
	Label      string            `cbor:"label"`
	Assertions []assertionRecord `cbor:"assertions"`
	Claim      []byte            `cbor:"claim"`
	Signature  []byte            `cbor:"signature"`
}

type assertionRecord struct {
	Label       string `cbor:"label"`
	ContentType string `cbor:"content_type"`
	Data        []byte `cbor:"data"`
}

type claim struct {
	ClaimGenerator string      `cbor:"claim_generator"`
	Title          string      `cbor:"dc:title,omitempty"`
	Format         string      `cbor:"dc:format"`
	InstanceID     string      `cbor:"instanceID"`
	Signature      string      `cbor:"signature"`
	Assertions     []hashedURI `cbor:"assertions"`
	Alg            string      `cbor:"alg"`
}

type hashedURI struct {
	URL  string `cbor:"url"`
	Hash []byte `cbor:"hash"`
}

type dataHashAssertion struct {
	Alg  string `cbor:"alg"`
	Hash []byte `cbor:"hash"`
	Name string `cbor:"name"`
}

type ingredientAssertion struct {
	Title            string             `cbor:"dc:title,omitempty"`
	Format           string             `cbor:"dc:format"`
	InstanceID       string             `cbor:"instanceID"`
	Relationship     string             `cbor:"relationship"`
	Hash             []byte             `cbor:"hash,omitempty"`
	Manifest         *hashedURI         `cbor:"c2pa_manifest,omitempty"`
	ValidationStatus []ValidationStatus `cbor:"validationStatus,omitempty"`
}

func (m *manifestRecord) assertion(label string) (*assertionRecord, bool) {
	for i := range m.Assertions {
		if m.Assertions[i].Label == label {
			return &m.Assertions[i], true
		}
	}
	return nil, false
}

func (r assertionRecord) hash() ([]byte, error) {
	enc, err := encMode.Marshal(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(enc)
	return sum[:], nil
}

func assertionURI(label string) string {
	return assertionURIBase + label
}

func labelFromAssertionURI(uri string) (string, bool) {
	return strings.CutPrefix(uri, assertionURIBase)
}

func manifestURI(label string) string {
	return manifestURIBase + label
}

func encodeStore(doc *storeDocument) ([]byte, error) {
	data, err := encMode.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return encodeStoreBox(data), nil
}

// decodeStore parses a JUMBF manifest store.
func decodeStore(jumbf []byte) (*storeDocument, error) {
	data, err := decodeStoreBox(jumbf)
	if err != nil {
		return nil, err
	}
	var doc storeDocument
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if len(doc.Manifests) == 0 {
		return nil, fmt.Errorf("%w: store has no manifests", ErrInvalidManifest)
	}
	return &doc, nil
}

func (d *storeDocument) active() *manifestRecord {
	return &d.Manifests[len(d.Manifests)-1]
}

func (d *storeDocument) manifest(label string) (*manifestRecord, bool) {
	for i := range d.Manifests {
		if d.Manifests[i].Label == label {
			return &d.Manifests[i], true
		}
	}
	return nil, false
}

func claimHash(claimBytes []byte) []byte {
	sum := sha256.Sum256(claimBytes)
	return sum[:]
}
