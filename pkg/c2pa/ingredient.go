package c2pa

import (
	"context"
	"crypto/sha256"

	"github.com/google/uuid"
)

// Ingredient describes an asset used to create a new one. When the asset
// already carries a manifest store, the store is kept so a new manifest can
// chain to it.
type Ingredient struct {
	Title            string
	Format           string
	InstanceID       string
	Relationship     string
	ActiveManifest   string
	RemoteURL        string
	Hash             []byte
	ValidationStatus []ValidationStatus

	manifestData []byte
	store        *storeDocument
}

// IngredientFromMemory inspects asset and builds an ingredient from it.
// Unreadable manifest stores are recorded in ValidationStatus rather than
// returned as errors; only an unparseable or unsupported asset fails.
func IngredientFromMemory(ctx context.Context, format string, asset []byte) (*Ingredient, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewEngineError("ingredient", err)
	}

	mime, c, err := containerFor(format)
	if err != nil {
		return nil, NewEngineError("ingredient", err)
	}

	jumbf, remote, err := c.extract(asset)
	if err != nil {
		return nil, NewEngineError("ingredient", err)
	}

	sum := sha256.Sum256(asset)
	ing := &Ingredient{
		Format:       mime,
		InstanceID:   "xmp:iid:" + uuid.NewString(),
		Relationship: RelationshipParentOf,
		RemoteURL:    remote,
		Hash:         sum[:],
	}

	switch {
	case jumbf != nil:
		doc, err := decodeStore(jumbf)
		if err != nil {
			ing.ValidationStatus = append(ing.ValidationStatus, ValidationStatus{
				Code:        StatusClaimMalformed,
				Explanation: err.Error(),
			})
			break
		}
		ing.manifestData = append([]byte(nil), jumbf...)
		ing.store = doc
		ing.ActiveManifest = doc.active().Label
		if cl, err := decodeClaim(doc.active().Claim); err == nil {
			ing.Title = cl.Title
		}
	case remote != "":
		ing.ValidationStatus = append(ing.ValidationStatus, ValidationStatus{
			Code: StatusManifestInaccessible,
			URL:  remote,
		})
	}

	return ing, nil
}

// ManifestData returns the embedded JUMBF manifest store, or nil when the
// ingredient carries none.
func (i *Ingredient) ManifestData() []byte {
	return i.manifestData
}

// assertion returns the c2pa.ingredient assertion body for this ingredient.
func (i *Ingredient) assertion() ingredientAssertion {
	a := ingredientAssertion{
		Title:            i.Title,
		Format:           i.Format,
		InstanceID:       i.InstanceID,
		Relationship:     i.Relationship,
		Hash:             i.Hash,
		ValidationStatus: i.ValidationStatus,
	}
	if i.store != nil {
		active := i.store.active()
		a.Manifest = &hashedURI{URL: manifestURI(active.Label), Hash: claimHash(active.Claim)}
	}
	return a
}
