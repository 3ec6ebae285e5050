package eip712

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// PrimaryType is the EIP-2612 primary type name.
const PrimaryType = "Permit"

// Domain is the token's EIP-712 domain. Every field must match what the
// token contract uses to compute DOMAIN_SEPARATOR or signatures are rejected.
type Domain struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	ChainID           *big.Int       `json:"chainId"`
	VerifyingContract common.Address `json:"verifyingContract"`
}

func (d Domain) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidDomain)
	}
	if d.Version == "" {
		return fmt.Errorf("%w: version is empty", ErrInvalidDomain)
	}
	if d.ChainID == nil || d.ChainID.Sign() <= 0 {
		return fmt.Errorf("%w: chain id must be positive", ErrInvalidDomain)
	}
	if d.VerifyingContract == (common.Address{}) {
		return fmt.Errorf("%w: verifying contract is zero", ErrInvalidDomain)
	}
	return nil
}

// PermitMessage is the EIP-2612 Permit struct.
type PermitMessage struct {
	Owner    common.Address `json:"owner"`
	Spender  common.Address `json:"spender"`
	Value    *big.Int       `json:"value"`
	Nonce    *big.Int       `json:"nonce"`
	Deadline *big.Int       `json:"deadline"`
}

func (m PermitMessage) Validate() error {
	if m.Value == nil || m.Nonce == nil || m.Deadline == nil {
		return fmt.Errorf("%w: value, nonce and deadline are required", ErrInvalidMessage)
	}
	for name, v := range map[string]*big.Int{"value": m.Value, "nonce": m.Nonce, "deadline": m.Deadline} {
		if v.Sign() < 0 || v.BitLen() > 256 {
			return fmt.Errorf("%w: %s out of uint256 range", ErrInvalidMessage, name)
		}
	}
	return nil
}

// Signature is a split secp256k1 signature with V in {27, 28}.
type Signature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// Bytes returns the 65-byte r || s || v encoding.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

func (s Signature) Hex() string {
	return hexutil.Encode(s.Bytes())
}

// SplitSignature splits a 65-byte signature. V may be 0/1 or 27/28 and is
// normalised to 27/28.
func SplitSignature(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, ErrInvalidSignatureLen
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return Signature{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig[64])
	}
	return Signature{
		V: v,
		R: common.BytesToHash(sig[:32]),
		S: common.BytesToHash(sig[32:64]),
	}, nil
}

var permitTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "owner", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// TypedData builds the apitypes representation of a permit.
func TypedData(domain Domain, msg PermitMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       permitTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		// apitypes only accepts hex strings for address fields
		Message: apitypes.TypedDataMessage{
			"owner":    msg.Owner.Hex(),
			"spender":  msg.Spender.Hex(),
			"value":    msg.Value,
			"nonce":    msg.Nonce,
			"deadline": msg.Deadline,
		},
	}
}

// DomainSeparator computes the hash a compliant token returns from DOMAIN_SEPARATOR().
func DomainSeparator(domain Domain) (common.Hash, error) {
	if err := domain.Validate(); err != nil {
		return common.Hash{}, err
	}
	td := TypedData(domain, PermitMessage{})
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(sep), nil
}

// Digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(permit)).
func Digest(domain Domain, msg PermitMessage) (common.Hash, error) {
	if err := domain.Validate(); err != nil {
		return common.Hash{}, err
	}
	if err := msg.Validate(); err != nil {
		return common.Hash{}, err
	}
	td := TypedData(domain, msg)

	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := td.HashStruct(PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}

	// Byte-level concatenation, not string concat
	rawData := make([]byte, 0, 66)
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, messageHash...)

	return crypto.Keccak256Hash(rawData), nil
}

// SignPermit signs the permit digest with key. Signing is deterministic
// (RFC 6979) for identical inputs.
func SignPermit(key *ecdsa.PrivateKey, domain Domain, msg PermitMessage) (Signature, error) {
	digest, err := Digest(domain, msg)
	if err != nil {
		return Signature{}, err
	}
	raw, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return Signature{}, fmt.Errorf("failed to sign permit: %w", err)
	}
	return SplitSignature(raw)
}

// RecoverSigner returns the address that produced sig over the permit.
func RecoverSigner(domain Domain, msg PermitMessage, sig Signature) (common.Address, error) {
	digest, err := Digest(domain, msg)
	if err != nil {
		return common.Address{}, err
	}
	if sig.V != 27 && sig.V != 28 {
		return common.Address{}, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, sig.V)
	}
	recID := sig.V - 27
	r := new(big.Int).SetBytes(sig.R[:])
	s := new(big.Int).SetBytes(sig.S[:])
	// Reject high-s like OpenZeppelin's ECDSA.recover does on-chain
	if !crypto.ValidateSignatureValues(recID, r, s, true) {
		return common.Address{}, ErrInvalidSignature
	}

	raw := sig.Bytes()
	raw[64] = recID
	pubKey, err := crypto.SigToPub(digest.Bytes(), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}
