package cms

import (
	"encoding/asn1"
	"fmt"
)

// ParseContentInfo parses a CMS ContentInfo structure.
func ParseContentInfo(data []byte) (*ContentInfo, error) {
	var ci ContentInfo
	rest, err := asn1.Unmarshal(data, &ci)
	if err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("failed to parse ContentInfo: %w", err))
	}
	if len(rest) > 0 {
		return nil, NewCMSError("parse", fmt.Errorf("trailing data after ContentInfo"))
	}
	return &ci, nil
}

// ParseSignedData parses a CMS SignedData structure from raw DER bytes.
// The input should be a complete ContentInfo containing SignedData.
func ParseSignedData(data []byte) (*SignedData, error) {
	ci, err := ParseContentInfo(data)
	if err != nil {
		return nil, err
	}

	if !ci.ContentType.Equal(OIDSignedData) {
		return nil, NewCMSError("parse", fmt.Errorf("%w: not a SignedData structure, got OID %v", ErrInvalidContent, ci.ContentType))
	}

	var sd SignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, NewCMSError("parse", fmt.Errorf("failed to parse SignedData: %w", err))
	}

	return &sd, nil
}
