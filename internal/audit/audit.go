package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

var (
	globalWriter Writer = NopWriter{}
	globalMu     sync.RWMutex
	enabled      bool
)

// Init installs w as the process audit writer. A nil w turns auditing off.
func Init(w Writer) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if w == nil {
		globalWriter = NopWriter{}
		enabled = false
		return nil
	}
	globalWriter = w
	enabled = true
	return nil
}

// InitFile installs a FileWriter for path; an empty path turns auditing off.
func InitFile(path string) error {
	if path == "" {
		return Init(nil)
	}
	w, err := NewFileWriter(path)
	if err != nil {
		return err
	}
	return Init(w)
}

// Close closes the process audit writer and turns auditing off.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	err := globalWriter.Close()
	globalWriter = NopWriter{}
	enabled = false
	return err
}

func Enabled() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return enabled
}

// Log writes event to the process audit writer.
func Log(event *Event) error {
	globalMu.RLock()
	w := globalWriter
	globalMu.RUnlock()

	return w.Write(event)
}

// MustLog is Log with an error meant to fail the audited operation:
//
//	if err := audit.MustLog(event); err != nil {
//	    return nil, err
//	}
func MustLog(event *Event) error {
	if err := Log(event); err != nil {
		return fmt.Errorf("audit log failed: %w", err)
	}
	return nil
}

// Digest is the audit form of a byte payload.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

func reason(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// LogAssetSigned records a sign request over asset.
func LogAssetSigned(mimeType string, asset []byte, alg string, assertions int, opErr error) error {
	return MustLog(NewEvent(EventAssetSigned, resultOf(opErr)).
		WithObject(Object{
			Type:     "asset",
			MimeType: mimeType,
			Digest:   Digest(asset),
		}).
		WithContext(Context{
			Algorithm:  alg,
			Assertions: assertions,
			Reason:     reason(opErr),
		}))
}

// LogManifestRead records a manifest store read. active is the active
// manifest label when the read succeeded; remoteURL is set when the asset
// only points to a remote manifest.
func LogManifestRead(mimeType string, asset []byte, active, remoteURL string, sidecar bool, opErr error) error {
	return MustLog(NewEvent(EventManifestRead, resultOf(opErr)).
		WithObject(Object{
			Type:     "manifest",
			MimeType: mimeType,
			Digest:   Digest(asset),
			Label:    active,
		}).
		WithContext(Context{
			RemoteURL: remoteURL,
			Sidecar:   sidecar,
			Reason:    reason(opErr),
		}))
}

// LogTimestampRequested records one RFC 3161 exchange with tsaURL.
func LogTimestampRequested(tsaURL string, request []byte, opErr error) error {
	return MustLog(NewEvent(EventTimestampRequested, resultOf(opErr)).
		WithObject(Object{
			Type:   "timestamp",
			Digest: Digest(request),
		}).
		WithContext(Context{
			TSA:    tsaURL,
			Reason: reason(opErr),
		}))
}

// LogKeyAccessed records one use of a signing key.
func LogKeyAccessed(keyID, alg string, opErr error) error {
	return MustLog(NewEvent(EventKeyAccessed, resultOf(opErr)).
		WithObject(Object{
			Type:  "key",
			KeyID: keyID,
		}).
		WithContext(Context{
			Algorithm: alg,
			Reason:    reason(opErr),
		}))
}
