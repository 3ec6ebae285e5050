package eip712

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Verifier defines the interface for EIP-2612 permit verification
type Verifier interface {
	// VerifyPermit checks that sig was produced by msg.Owner over (domain, msg)
	// and that the permit has not expired at the verifier's current time.
	VerifyPermit(domain Domain, msg PermitMessage, sig Signature) (common.Address, error)

	// VerifySignatureOnly checks only the cryptographic binding, ignoring the deadline.
	VerifySignatureOnly(domain Domain, msg PermitMessage, sig Signature) (bool, error)
}

// VerifyAt reports whether sig is a valid owner signature that a permit
// consumer would accept at time at. A consumer rejects at > deadline.
func VerifyAt(domain Domain, msg PermitMessage, sig Signature, at time.Time) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	// deadlines beyond int64 never expire
	if msg.Deadline.IsInt64() && at.Unix() > msg.Deadline.Int64() {
		return ErrSignatureExpired
	}
	recovered, err := RecoverSigner(domain, msg, sig)
	if err != nil {
		return err
	}
	if recovered != msg.Owner {
		return ErrAddressMismatch
	}
	return nil
}

// Error definitions
var (
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidSignatureLen = errors.New("signature must be 65 bytes")
	ErrSignatureExpired    = errors.New("permit deadline has passed")
	ErrAddressMismatch     = errors.New("recovered address does not match owner")
	ErrInvalidDomain       = errors.New("invalid typed data domain")
	ErrInvalidMessage      = errors.New("invalid permit message")
)
