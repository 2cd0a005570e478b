package c2pa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/remiblancher/provkit/pkg/tsa"
)

// Validation status codes.
const (
	StatusClaimMalformed         = "claim.malformed"
	StatusClaimSignatureMismatch = "claimSignature.mismatch"
	StatusSigningCredential      = "signingCredential.invalid"
	StatusAssertionMissing       = "assertion.missing"
	StatusHashedURIMismatch      = "assertion.hashedURI.mismatch"
	StatusDataHashMismatch       = "assertion.dataHash.mismatch"
	StatusTimeStampMalformed     = "timeStamp.malformed"
	StatusTimeStampMismatch      = "timeStamp.mismatch"
	StatusManifestInaccessible   = "manifest.inaccessible"
	StatusIngredientMissing      = "ingredient.manifest.missing"
)

// ValidationStatus reports one validation finding.
type ValidationStatus struct {
	Code        string `json:"code" cbor:"code"`
	URL         string `json:"url,omitempty" cbor:"url,omitempty"`
	Explanation string `json:"explanation,omitempty" cbor:"explanation,omitempty"`
}

// ManifestStore is the read-only view of a manifest store.
type ManifestStore struct {
	ActiveManifest   string                   `json:"active_manifest,omitempty"`
	Manifests        map[string]*ManifestView `json:"manifests"`
	ValidationStatus []ValidationStatus       `json:"validation_status,omitempty"`
}

// ManifestView is the read-only view of one manifest.
type ManifestView struct {
	Label          string           `json:"label"`
	ClaimGenerator string           `json:"claim_generator"`
	Title          string           `json:"title,omitempty"`
	Format         string           `json:"format"`
	InstanceID     string           `json:"instance_id"`
	Thumbnail      *ThumbnailView   `json:"thumbnail,omitempty"`
	Ingredients    []IngredientView `json:"ingredients"`
	Assertions     []AssertionView  `json:"assertions"`
	SignatureInfo  *SignatureInfo   `json:"signature_info,omitempty"`
}

// AssertionView is one user assertion with its decoded value.
type AssertionView struct {
	Label string `json:"label"`
	Data  any    `json:"data"`
}

// IngredientView describes an ingredient recorded in a manifest.
type IngredientView struct {
	Title            string             `json:"title,omitempty"`
	Format           string             `json:"format"`
	InstanceID       string             `json:"instance_id"`
	Relationship     string             `json:"relationship"`
	ActiveManifest   string             `json:"active_manifest,omitempty"`
	ValidationStatus []ValidationStatus `json:"validation_status,omitempty"`
}

// ThumbnailView identifies the claim thumbnail.
type ThumbnailView struct {
	Format     string `json:"format"`
	Identifier string `json:"identifier"`
}

// SignatureInfo summarises the claim signature.
type SignatureInfo struct {
	Alg              string     `json:"alg"`
	Issuer           string     `json:"issuer,omitempty"`
	CertSerialNumber string     `json:"cert_serial_number,omitempty"`
	Time             *time.Time `json:"time,omitempty"`
	TimestampIssuer  string     `json:"timestamp_issuer,omitempty"`
}

// ReadFromMemory reads and validates the manifest store embedded in asset.
// An asset that only references a remote store returns *RemoteManifestError.
func ReadFromMemory(ctx context.Context, format string, asset []byte) (*ManifestStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewEngineError("read", err)
	}

	_, c, err := containerFor(format)
	if err != nil {
		return nil, NewEngineError("read", err)
	}

	jumbf, remote, err := c.extract(asset)
	if err != nil {
		return nil, NewEngineError("read", err)
	}
	if jumbf == nil {
		if remote != "" {
			return nil, NewEngineError("read", &RemoteManifestError{URL: remote})
		}
		return nil, NewEngineError("read", ErrManifestNotFound)
	}

	stripped, err := c.strip(asset)
	if err != nil {
		return nil, NewEngineError("read", err)
	}
	return readStore(jumbf, stripped)
}

// ReadFromManifestAndMemory validates a detached (sidecar) manifest store
// against asset.
func ReadFromManifestAndMemory(ctx context.Context, manifest []byte, format string, asset []byte) (*ManifestStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewEngineError("read", err)
	}

	_, c, err := containerFor(format)
	if err != nil {
		return nil, NewEngineError("read", err)
	}

	stripped, err := c.strip(asset)
	if err != nil {
		return nil, NewEngineError("read", err)
	}
	return readStore(manifest, stripped)
}

func readStore(jumbf, stripped []byte) (*ManifestStore, error) {
	doc, err := decodeStore(jumbf)
	if err != nil {
		return nil, NewEngineError("read", err)
	}

	store := &ManifestStore{
		ActiveManifest: doc.active().Label,
		Manifests:      make(map[string]*ManifestView, len(doc.Manifests)),
	}

	for i := range doc.Manifests {
		rec := &doc.Manifests[i]
		isActive := i == len(doc.Manifests)-1
		view, statuses := validateManifest(doc, rec, isActive, stripped)
		store.ValidationStatus = append(store.ValidationStatus, statuses...)
		if view != nil {
			store.Manifests[rec.Label] = view
		}
	}
	return store, nil
}

func decodeClaim(data []byte) (*claim, error) {
	var cl claim
	if err := decMode.Unmarshal(data, &cl); err != nil {
		return nil, err
	}
	return &cl, nil
}

// validateManifest builds the view of one manifest and reports every
// integrity problem found along the way.
func validateManifest(doc *storeDocument, rec *manifestRecord, isActive bool, stripped []byte) (*ManifestView, []ValidationStatus) {
	var statuses []ValidationStatus
	report := func(code, url, explanation string) {
		statuses = append(statuses, ValidationStatus{Code: code, URL: url, Explanation: explanation})
	}

	cl, err := decodeClaim(rec.Claim)
	if err != nil {
		report(StatusClaimMalformed, manifestURI(rec.Label), err.Error())
		return nil, statuses
	}

	view := &ManifestView{
		Label:          rec.Label,
		ClaimGenerator: cl.ClaimGenerator,
		Title:          cl.Title,
		Format:         cl.Format,
		InstanceID:     cl.InstanceID,
		Ingredients:    []IngredientView{},
		Assertions:     []AssertionView{},
	}

	for _, ref := range cl.Assertions {
		label, ok := labelFromAssertionURI(ref.URL)
		if !ok {
			report(StatusAssertionMissing, ref.URL, "unsupported assertion reference")
			continue
		}
		a, ok := rec.assertion(label)
		if !ok {
			report(StatusAssertionMissing, ref.URL, "")
			continue
		}
		if h, err := a.hash(); err != nil || !bytes.Equal(h, ref.Hash) {
			report(StatusHashedURIMismatch, ref.URL, "")
			continue
		}

		switch {
		case label == LabelDataHash:
			if isActive {
				if err := checkDataHash(a, stripped); err != nil {
					report(StatusDataHashMismatch, ref.URL, err.Error())
				}
			}
		case label == LabelIngredient:
			ing, st := ingredientView(doc, a)
			statuses = append(statuses, st...)
			view.Ingredients = append(view.Ingredients, ing)
		case strings.HasPrefix(label, LabelThumbnailPrefix):
			view.Thumbnail = &ThumbnailView{Format: a.ContentType, Identifier: ref.URL}
		default:
			var data any
			if err := decMode.Unmarshal(a.Data, &data); err != nil {
				report(StatusClaimMalformed, ref.URL, err.Error())
				continue
			}
			view.Assertions = append(view.Assertions, AssertionView{Label: label, Data: data})
		}
	}

	info, st := signatureInfo(rec)
	statuses = append(statuses, st...)
	view.SignatureInfo = info

	return view, statuses
}

func checkDataHash(a *assertionRecord, stripped []byte) error {
	var dh dataHashAssertion
	if err := decMode.Unmarshal(a.Data, &dh); err != nil {
		return err
	}
	if dh.Alg != "sha256" {
		return fmt.Errorf("unsupported hash algorithm %q", dh.Alg)
	}
	sum := sha256.Sum256(stripped)
	if !bytes.Equal(sum[:], dh.Hash) {
		return fmt.Errorf("asset bytes do not match the hard binding")
	}
	return nil
}

func ingredientView(doc *storeDocument, a *assertionRecord) (IngredientView, []ValidationStatus) {
	var ia ingredientAssertion
	if err := decMode.Unmarshal(a.Data, &ia); err != nil {
		return IngredientView{}, []ValidationStatus{{Code: StatusClaimMalformed, URL: assertionURI(a.Label), Explanation: err.Error()}}
	}

	view := IngredientView{
		Title:            ia.Title,
		Format:           ia.Format,
		InstanceID:       ia.InstanceID,
		Relationship:     ia.Relationship,
		ValidationStatus: ia.ValidationStatus,
	}
	if ia.Manifest == nil {
		return view, nil
	}

	label := strings.TrimPrefix(ia.Manifest.URL, manifestURIBase)
	view.ActiveManifest = label
	parent, ok := doc.manifest(label)
	if !ok {
		return view, []ValidationStatus{{Code: StatusIngredientMissing, URL: ia.Manifest.URL}}
	}
	if !bytes.Equal(claimHash(parent.Claim), ia.Manifest.Hash) {
		return view, []ValidationStatus{{Code: StatusHashedURIMismatch, URL: ia.Manifest.URL}}
	}
	return view, nil
}

func signatureInfo(rec *manifestRecord) (*SignatureInfo, []ValidationStatus) {
	uri := manifestURI(rec.Label) + "/" + strings.TrimPrefix(claimSignatureURI, "self#jumbf=")

	cs, err := parseClaimSignature(rec.Signature)
	if err != nil {
		return nil, []ValidationStatus{{Code: StatusSigningCredential, URL: uri, Explanation: err.Error()}}
	}

	leaf := cs.chain[0]
	info := &SignatureInfo{
		Alg:              cs.alg.Upper(),
		Issuer:           issuerName(leaf.Issuer.Organization, leaf.Issuer.CommonName),
		CertSerialNumber: leaf.SerialNumber.String(),
	}

	var statuses []ValidationStatus
	if err := cs.verify(rec.Claim); err != nil {
		statuses = append(statuses, ValidationStatus{Code: StatusClaimSignatureMismatch, URL: uri, Explanation: err.Error()})
	}

	if der := cs.timestampToken(); der != nil {
		token, err := tsa.ParseToken(der)
		switch {
		case err != nil:
			statuses = append(statuses, ValidationStatus{Code: StatusTimeStampMalformed, URL: uri, Explanation: err.Error()})
		case timestampMatches(token, rec.Claim) != nil:
			statuses = append(statuses, ValidationStatus{Code: StatusTimeStampMismatch, URL: uri})
		default:
			t := token.GenTime().UTC()
			info.Time = &t
			info.TimestampIssuer = token.Issuer()
		}
	}

	return info, statuses
}

func issuerName(org []string, cn string) string {
	if len(org) > 0 {
		return org[0]
	}
	return cn
}
