package dto

// TimestampRequestRequest builds an RFC 3161 TimeStampReq for a digest.
type TimestampRequestRequest struct {
	Alg    string     `json:"alg"`
	Digest BinaryData `json:"digest"`
}

type TimestampRequestResponse struct {
	Request       BinaryData `json:"request"`
	HashAlgorithm string     `json:"hash_algorithm"`
	Nonce         string     `json:"nonce"` // decimal
}

// TimestampInspectRequest decodes a DER TimeStampReq.
type TimestampInspectRequest struct {
	Request BinaryData `json:"request"`
}

type TimestampInspectResponse struct {
	Version       int    `json:"version"`
	HashAlgorithm string `json:"hash_algorithm"`
	Digest        string `json:"digest"` // hex
	Nonce         string `json:"nonce,omitempty"`
	CertReq       bool   `json:"cert_req"`
}
