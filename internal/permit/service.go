package permit

import (
	stderrors "errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
)

// Service verifies permits offline for the ops API. It holds no key.
type Service struct {
	verifier eip712.Verifier
	metrics  *metrics.Registry
	logger   *zap.Logger
}

func NewService(verifier eip712.Verifier, m *metrics.Registry, logger *zap.Logger) *Service {
	return &Service{verifier: verifier, metrics: m, logger: logger}
}

// Verify decodes req and checks it. Malformed input is an InvalidInput
// error; a well-formed permit that fails verification is reported in the
// response with Valid false.
func (s *Service) Verify(req *VerifyRequest) (*VerifyResponse, error) {
	domain, msg, sig, err := decode(req)
	if err != nil {
		s.metrics.IncPermitVerification("malformed")
		return nil, err
	}

	digest, err := eip712.Digest(domain, msg)
	if err != nil {
		s.metrics.IncPermitVerification("malformed")
		return nil, errors.InvalidInput(err.Error())
	}
	resp := &VerifyResponse{Digest: digest.Hex()}

	recovered, err := s.verifier.VerifyPermit(domain, msg, sig)
	if recovered != (common.Address{}) {
		resp.Recovered = recovered.Hex()
	}
	switch {
	case err == nil:
		resp.Valid = true
		resp.SignatureValid = true
		s.metrics.IncPermitVerification("valid")
	case stderrors.Is(err, eip712.ErrSignatureExpired):
		resp.Expired = true
		resp.Reason = err.Error()
		// an expired permit signed by the owner only needs a fresh deadline
		signed, sigErr := s.verifier.VerifySignatureOnly(domain, msg, sig)
		resp.SignatureValid = sigErr == nil && signed
		s.metrics.IncPermitVerification("expired")
	default:
		resp.Reason = err.Error()
		s.metrics.IncPermitVerification("invalid")
	}
	return resp, nil
}

func decode(req *VerifyRequest) (eip712.Domain, eip712.PermitMessage, eip712.Signature, error) {
	var (
		domain eip712.Domain
		msg    eip712.PermitMessage
		sig    eip712.Signature
	)

	chainID, err := parseUint("domain.chain_id", req.Domain.ChainID)
	if err != nil {
		return domain, msg, sig, err
	}
	contract, err := parseAddress("domain.verifying_contract", req.Domain.VerifyingContract)
	if err != nil {
		return domain, msg, sig, err
	}
	version := req.Domain.Version
	if version == "" {
		version = DefaultVersion
	}
	domain = eip712.Domain{
		Name:              req.Domain.Name,
		Version:           version,
		ChainID:           chainID,
		VerifyingContract: contract,
	}

	if msg.Owner, err = parseAddress("message.owner", req.Message.Owner); err != nil {
		return domain, msg, sig, err
	}
	if msg.Spender, err = parseAddress("message.spender", req.Message.Spender); err != nil {
		return domain, msg, sig, err
	}
	if msg.Value, err = parseUint("message.value", req.Message.Value); err != nil {
		return domain, msg, sig, err
	}
	if msg.Nonce, err = parseUint("message.nonce", req.Message.Nonce); err != nil {
		return domain, msg, sig, err
	}
	if msg.Deadline, err = parseUint("message.deadline", req.Message.Deadline); err != nil {
		return domain, msg, sig, err
	}

	raw, err := hexutil.Decode(req.Signature)
	if err != nil {
		return domain, msg, sig, errors.InvalidInput("signature must be 0x-prefixed hex")
	}
	if sig, err = eip712.SplitSignature(raw); err != nil {
		return domain, msg, sig, errors.InvalidInput(err.Error())
	}
	return domain, msg, sig, nil
}

func parseUint(field, raw string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok || n.Sign() < 0 || n.BitLen() > 256 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s must be a decimal uint256", field))
	}
	return n, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.InvalidInput(fmt.Sprintf("%s is not a valid address", field))
	}
	return common.HexToAddress(raw), nil
}
