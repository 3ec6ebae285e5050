package buddyguard

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
	"github.com/ahwlsqja/buddyguard-ops/internal/permit"
	"github.com/ahwlsqja/buddyguard-ops/pkg/units"
)

// Amount is a token amount as the operator typed it.
type Amount struct {
	Value string
	// Raw means Value is already in base units.
	Raw bool
	// Decimals overrides the token's decimals() when set.
	Decimals *uint8
}

// ResolveAmount converts a to base units of token.
func ResolveAmount(ctx context.Context, inv *invoker.Invoker, token common.Address, a Amount) (*big.Int, error) {
	if a.Raw {
		v, err := units.ParseBaseUnits(a.Value)
		if err != nil {
			return nil, errors.InvalidInput(err.Error())
		}
		return v, nil
	}

	var decimals uint8
	if a.Decimals != nil {
		decimals = *a.Decimals
	} else {
		out, err := inv.Call(ctx, token, contracts.ERC20Permit, contracts.MethodDecimals)
		if err != nil {
			return nil, err
		}
		d, ok := out[0].(uint8)
		if !ok {
			return nil, errors.ContractInterface(token.Hex(), contracts.MethodDecimals, fmt.Errorf("unexpected output %T", out[0]))
		}
		decimals = d
	}

	v, err := units.ParseUnits(a.Value, decimals)
	if err != nil {
		return nil, errors.InvalidInput(err.Error())
	}
	return v, nil
}

// ApproveToken sets the signer's allowance for spender on token.
func ApproveToken(ctx context.Context, inv *invoker.Invoker, token, spender common.Address, amount *big.Int, logger *zap.Logger) (*Result, error) {
	if spender == (common.Address{}) {
		return nil, errors.InvalidInput("spender address is required")
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, errors.InvalidInput("amount must not be negative")
	}
	logger.Info("approving token",
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()),
		zap.String("amount", amount.String()),
	)
	receipt, err := inv.Invoke(ctx, invoker.Call{
		Action:   "approve-token",
		Contract: token,
		ABI:      contracts.ERC20Permit,
		Method:   contracts.MethodApprove,
		Args:     []any{spender, amount},
	})
	if err != nil {
		return nil, err
	}
	return result(receipt), nil
}

// SignPermit signs a permit without submitting anything.
func SignPermit(ctx context.Context, authorizer *permit.Authorizer, token, spender common.Address, value *big.Int, validity time.Duration) (*permit.Authorization, error) {
	if validity <= 0 {
		return nil, errors.InvalidInput("permit validity must be positive")
	}
	return authorizer.Authorize(ctx, permit.Request{
		Token:    token,
		Spender:  spender,
		Value:    value,
		Deadline: authorizer.Deadline(validity),
	})
}
