// Package cms implements the subset of CMS (RFC 5652) needed to carry and
// inspect RFC 3161 timestamp tokens.
package cms

import "encoding/asn1"

// CMS/PKCS#7 OIDs
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// TSP content type (RFC 3161)
	OIDTSTInfo = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 4}
)
