package eip712

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// EthVerifier implements Verifier interface using go-ethereum
type EthVerifier struct {
	logger *zap.Logger
	now    func() time.Time
}

// Compile-time interface compliance check
var _ Verifier = (*EthVerifier)(nil)

// NewEthVerifier creates a new permit verifier
func NewEthVerifier(logger *zap.Logger) *EthVerifier {
	return &EthVerifier{
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the verifier's time source
func (v *EthVerifier) WithClock(now func() time.Time) *EthVerifier {
	v.now = now
	return v
}

// VerifyPermit verifies owner binding and deadline, returning the recovered signer
func (v *EthVerifier) VerifyPermit(domain Domain, msg PermitMessage, sig Signature) (common.Address, error) {
	recovered, err := RecoverSigner(domain, msg, sig)
	if err != nil {
		return common.Address{}, err
	}

	if err := VerifyAt(domain, msg, sig, v.now()); err != nil {
		v.logger.Warn("permit rejected",
			zap.String("owner", msg.Owner.Hex()),
			zap.String("recovered", recovered.Hex()),
			zap.String("token", domain.VerifyingContract.Hex()),
			zap.Error(err),
		)
		return recovered, err
	}

	v.logger.Debug("permit verified",
		zap.String("owner", msg.Owner.Hex()),
		zap.String("spender", msg.Spender.Hex()),
	)
	return recovered, nil
}

// VerifySignatureOnly verifies only the cryptographic signature
func (v *EthVerifier) VerifySignatureOnly(domain Domain, msg PermitMessage, sig Signature) (bool, error) {
	recovered, err := RecoverSigner(domain, msg, sig)
	if err != nil {
		return false, err
	}
	return recovered == msg.Owner, nil
}
