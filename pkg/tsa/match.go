package tsa

import (
	"bytes"
	"fmt"
)

// MatchRequest checks that a granted token answers req: same imprint
// algorithm and digest, and the nonce echoed back when one was sent.
func MatchRequest(req *TimeStampReq, token *Token) error {
	if token == nil || token.Info == nil {
		return NewTSAError("match", ErrInvalidToken)
	}

	if !token.Info.MessageImprint.HashAlgorithm.Algorithm.Equal(req.MessageImprint.HashAlgorithm.Algorithm) {
		return NewTSAError("match", fmt.Errorf("%w: algorithm %v, expected %v", ErrHashMismatch,
			token.Info.MessageImprint.HashAlgorithm.Algorithm, req.MessageImprint.HashAlgorithm.Algorithm))
	}
	if !bytes.Equal(token.Info.MessageImprint.HashedMessage, req.MessageImprint.HashedMessage) {
		return NewTSAError("match", ErrHashMismatch)
	}

	if req.Nonce != nil {
		if token.Info.Nonce == nil || token.Info.Nonce.Cmp(req.Nonce) != 0 {
			return NewTSAError("match", ErrNonceMismatch)
		}
	}

	return nil
}
