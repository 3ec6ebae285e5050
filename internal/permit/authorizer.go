// Package permit signs EIP-2612 permits against a token's live domain.
package permit

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/metrics"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
	"github.com/ahwlsqja/buddyguard-ops/pkg/nonce"
)

// DefaultVersion is the domain version used when the token has no version().
const DefaultVersion = "1"

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Request is what the caller wants authorized. The owner is the session signer.
type Request struct {
	Token    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
}

// Authorization is a signed permit. Submit it with the same Deadline.
type Authorization struct {
	Owner    common.Address
	Spender  common.Address
	Token    common.Address
	Value    *big.Int
	Nonce    *big.Int
	Deadline *big.Int
	Domain   eip712.Domain
	eip712.Signature
}

// Message rebuilds the signed permit message.
func (a *Authorization) Message() eip712.PermitMessage {
	return eip712.PermitMessage{
		Owner:    a.Owner,
		Spender:  a.Spender,
		Value:    a.Value,
		Nonce:    a.Nonce,
		Deadline: a.Deadline,
	}
}

func (a *Authorization) reservation() nonce.Key {
	return nonce.Key{Token: a.Token, Owner: a.Owner, Nonce: a.Nonce}
}

type Options struct {
	// DefaultVersion replaces DefaultVersion for tokens without version().
	DefaultVersion string
	// Reservations, when set, claims each nonce before signing.
	Reservations nonce.Store
	Metrics      *metrics.Registry
}

// Authorizer reads nonce and domain from the token and signs with the
// invoker's session. It never sends a transaction.
type Authorizer struct {
	invoker *invoker.Invoker
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func NewAuthorizer(inv *invoker.Invoker, logger *zap.Logger, opts Options) *Authorizer {
	if opts.DefaultVersion == "" {
		opts.DefaultVersion = DefaultVersion
	}
	return &Authorizer{invoker: inv, opts: opts, logger: logger, now: time.Now}
}

// Deadline returns now + validity as a unix timestamp.
func (a *Authorizer) Deadline(validity time.Duration) *big.Int {
	return big.NewInt(a.now().Add(validity).Unix())
}

// Authorize signs a permit for req. The nonce is the token's current nonce
// for the signer; if another transaction consumes it before the permit is
// used, the consuming call reverts on-chain.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (*Authorization, error) {
	if err := a.validate(req); err != nil {
		a.opts.Metrics.IncPermitSigned("invalid")
		return nil, err
	}

	session := a.invoker.Session()
	owner := session.From()

	out, err := a.invoker.Call(ctx, req.Token, contracts.ERC20Permit, contracts.MethodNonces, owner)
	if err != nil {
		a.opts.Metrics.IncPermitSigned("error")
		return nil, err
	}
	current, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.ContractInterface(req.Token.Hex(), contracts.MethodNonces, fmt.Errorf("unexpected output %T", out[0]))
	}

	domain, err := a.Domain(ctx, req.Token)
	if err != nil {
		a.opts.Metrics.IncPermitSigned("error")
		return nil, err
	}

	auth := &Authorization{
		Owner:    owner,
		Spender:  req.Spender,
		Token:    req.Token,
		Value:    new(big.Int).Set(req.Value),
		Nonce:    current,
		Deadline: new(big.Int).Set(req.Deadline),
		Domain:   domain,
	}

	if a.opts.Reservations != nil {
		if err := a.opts.Reservations.Reserve(ctx, auth.reservation()); err != nil {
			a.opts.Metrics.IncPermitSigned("conflict")
			if stderrors.Is(err, nonce.ErrNonceAlreadyUsed) {
				return nil, errors.Conflict(fmt.Sprintf("permit nonce %s of %s is reserved by another signer", current, owner.Hex())).WithError(err)
			}
			return nil, errors.Internal("failed to reserve permit nonce").WithError(err)
		}
	}

	sig, err := session.Signer.SignPermit(domain, auth.Message())
	if err != nil {
		a.release(ctx, auth)
		a.opts.Metrics.IncPermitSigned("error")
		return nil, errors.Internal("failed to sign permit").WithError(err)
	}
	auth.Signature = sig

	a.opts.Metrics.IncPermitSigned("signed")
	a.logger.Info("permit signed",
		zap.String("owner", owner.Hex()),
		zap.String("spender", req.Spender.Hex()),
		zap.String("token", req.Token.Hex()),
		zap.String("value", req.Value.String()),
		zap.String("nonce", current.String()),
		zap.String("deadline", req.Deadline.String()),
	)
	return auth, nil
}

// Consume marks the permit's nonce used after the consuming transaction was mined.
func (a *Authorizer) Consume(ctx context.Context, auth *Authorization) {
	if a.opts.Reservations == nil {
		return
	}
	if err := a.opts.Reservations.MarkUsed(ctx, auth.reservation()); err != nil {
		a.logger.Warn("failed to mark permit nonce used", zap.String("owner", auth.Owner.Hex()), zap.Error(err))
	}
}

// Release frees the nonce of a permit that was never consumed.
func (a *Authorizer) Release(ctx context.Context, auth *Authorization) {
	a.release(ctx, auth)
}

func (a *Authorizer) release(ctx context.Context, auth *Authorization) {
	if a.opts.Reservations == nil {
		return
	}
	if err := a.opts.Reservations.Release(ctx, auth.reservation()); err != nil {
		a.logger.Warn("failed to release permit nonce", zap.String("owner", auth.Owner.Hex()), zap.Error(err))
	}
}

// Domain reads the token's EIP-712 domain. When the token exposes
// DOMAIN_SEPARATOR() it must match the separator computed from the domain.
func (a *Authorizer) Domain(ctx context.Context, token common.Address) (eip712.Domain, error) {
	out, err := a.invoker.Call(ctx, token, contracts.ERC20Permit, contracts.MethodName)
	if err != nil {
		return eip712.Domain{}, err
	}
	name, _ := out[0].(string)

	version := a.opts.DefaultVersion
	out, err = a.invoker.Call(ctx, token, contracts.ERC20Permit, contracts.MethodVersion)
	switch {
	case err == nil:
		version, _ = out[0].(string)
	case errors.IsCode(err, errors.CodeContractInterface):
		a.logger.Debug("token has no version(), using default",
			zap.String("token", token.Hex()),
			zap.String("version", version),
		)
	default:
		return eip712.Domain{}, err
	}

	domain := eip712.Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).Set(a.invoker.Session().ChainID),
		VerifyingContract: token,
	}

	out, err = a.invoker.Call(ctx, token, contracts.ERC20Permit, contracts.MethodDomainSeparator)
	switch {
	case err == nil:
		reported, _ := out[0].([32]byte)
		computed, hashErr := eip712.DomainSeparator(domain)
		if hashErr != nil {
			return eip712.Domain{}, errors.Internal("failed to hash permit domain").WithError(hashErr)
		}
		if common.Hash(reported) != computed {
			return eip712.Domain{}, errors.ContractInterface(token.Hex(), contracts.MethodDomainSeparator,
				fmt.Errorf("token reports %s, domain %q/%q hashes to %s",
					common.Hash(reported).Hex(), name, version, computed.Hex()))
		}
	case errors.IsCode(err, errors.CodeContractInterface):
		// no DOMAIN_SEPARATOR(), nothing to compare
	default:
		return eip712.Domain{}, err
	}

	return domain, nil
}

func (a *Authorizer) validate(req Request) error {
	if req.Token == (common.Address{}) {
		return errors.InvalidInput("token address is required")
	}
	if req.Spender == (common.Address{}) {
		return errors.InvalidInput("spender address is required")
	}
	if req.Value == nil || req.Value.Sign() <= 0 {
		return errors.InvalidInput("permit value must be positive")
	}
	if req.Value.Cmp(maxUint256) > 0 {
		return errors.InvalidInput("permit value exceeds uint256")
	}
	if req.Deadline == nil || req.Deadline.Cmp(big.NewInt(a.now().Unix())) <= 0 {
		return errors.InvalidInput("permit deadline must be in the future")
	}
	if req.Deadline.Cmp(maxUint256) > 0 {
		return errors.InvalidInput("permit deadline exceeds uint256")
	}
	return nil
}
