package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
)

// Signer holds a private key in memory. The key is never logged or returned.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// the parse error can echo key material
		return nil, errors.Configuration("private key is not valid hex secp256k1")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs tx for chainID with the latest signer the chain supports.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// SignPermit signs an EIP-2612 permit digest.
func (s *Signer) SignPermit(domain eip712.Domain, msg eip712.PermitMessage) (eip712.Signature, error) {
	return eip712.SignPermit(s.key, domain, msg)
}

// Session is one connection plus one signer, built once per run.
type Session struct {
	Backend Backend
	Signer  *Signer
	ChainID *big.Int
}

// NewSession reads the chain id from backend.
func NewSession(ctx context.Context, backend Backend, signer *Signer) (*Session, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, errors.Network("eth_chainId", err)
	}
	return &Session{Backend: backend, Signer: signer, ChainID: chainID}, nil
}

// From is the session's sending address.
func (s *Session) From() common.Address {
	return s.Signer.Address()
}
