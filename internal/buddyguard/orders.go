// Package buddyguard wraps the escrow contract's operations: one method per
// operator action, each submitting a single transaction.
package buddyguard

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/internal/invoker"
	"github.com/ahwlsqja/buddyguard-ops/internal/permit"
)

const eventOrderCreated = "OrderCreated"

// Result is the outcome of one mined transaction.
type Result struct {
	TxHash common.Hash
	Block  uint64
	// OrderID is set for order creation when the contract emitted OrderCreated.
	OrderID *big.Int
}

// Client talks to one escrow deployment.
type Client struct {
	invoker    *invoker.Invoker
	authorizer *permit.Authorizer
	address    common.Address
	version    string
	abi        abi.ABI
	logger     *zap.Logger
}

// New binds the escrow at address using the ABI for version.
// authorizer may be nil when no command needs a permit.
func New(inv *invoker.Invoker, authorizer *permit.Authorizer, address common.Address, version string, logger *zap.Logger) (*Client, error) {
	parsed, err := contracts.BuddyGuard(version)
	if err != nil {
		return nil, errors.Configuration(err.Error())
	}
	if version == "" {
		version = contracts.BuddyGuardV1
	}
	return &Client{
		invoker:    inv,
		authorizer: authorizer,
		address:    address,
		version:    version,
		abi:        parsed,
		logger:     logger,
	}, nil
}

func (c *Client) Address() common.Address { return c.address }

func (c *Client) Version() string { return c.version }

// CreateOrderParams describes a new order. Token is only sent by the v2 ABI.
type CreateOrderParams struct {
	Token     common.Address
	Guardians []common.Address
	Payment   *big.Int
}

// CreateOrder opens an order paid from a prior token allowance.
func (c *Client) CreateOrder(ctx context.Context, p CreateOrderParams) (*Result, error) {
	if err := validateOrder(p.Guardians, p.Payment); err != nil {
		return nil, err
	}

	args := []any{p.Guardians, p.Payment}
	if c.version == contracts.BuddyGuardV2 {
		if p.Token == (common.Address{}) {
			return nil, errors.InvalidInput("token address is required by the v2 createOrder")
		}
		args = []any{p.Token, p.Guardians, p.Payment}
	}

	receipt, err := c.invoke(ctx, "create-order", contracts.MethodCreateOrder, args...)
	if err != nil {
		return nil, err
	}
	return c.orderResult(receipt), nil
}

// PermitOrderParams describes an order paid through a permit signed in the
// same run. With the v2 ABI the contract charges the guardians' prices, so
// Payment must equal their sum.
type PermitOrderParams struct {
	Token     common.Address
	Guardians []common.Address
	Payment   *big.Int
	Validity  time.Duration
}

// CreateOrderWithPermit signs a permit for the escrow and consumes it in a
// single createOrderWithPermit transaction.
func (c *Client) CreateOrderWithPermit(ctx context.Context, p PermitOrderParams) (*Result, *permit.Authorization, error) {
	if c.authorizer == nil {
		return nil, nil, errors.Internal("permit authorizer is not configured")
	}
	if err := validateOrder(p.Guardians, p.Payment); err != nil {
		return nil, nil, err
	}
	if p.Validity <= 0 {
		return nil, nil, errors.InvalidInput("permit validity must be positive")
	}

	auth, err := c.authorizer.Authorize(ctx, permit.Request{
		Token:    p.Token,
		Spender:  c.address,
		Value:    p.Payment,
		Deadline: c.authorizer.Deadline(p.Validity),
	})
	if err != nil {
		return nil, nil, err
	}

	args := []any{p.Guardians, auth.Value, auth.Deadline, auth.V, auth.R, auth.S}
	if c.version == contracts.BuddyGuardV2 {
		args = []any{p.Guardians, auth.Deadline, auth.V, auth.R, auth.S}
	}

	receipt, err := c.invoke(ctx, "create-order-with-permit", contracts.MethodCreateOrderWithPermit, args...)
	switch {
	case err == nil:
		c.authorizer.Consume(ctx, auth)
	case errors.IsCode(err, errors.CodeOnChainRevert):
		// a reverted call leaves the token nonce untouched
		c.authorizer.Release(ctx, auth)
		return nil, auth, err
	default:
		return nil, auth, err
	}
	return c.orderResult(receipt), auth, nil
}

// CompleteOrder releases an order's payment to its guardians. Completing an
// order twice reverts on-chain.
func (c *Client) CompleteOrder(ctx context.Context, orderID *big.Int) (*Result, error) {
	if orderID == nil || orderID.Sign() < 0 {
		return nil, errors.InvalidInput("order id must be a non-negative integer")
	}
	receipt, err := c.invoke(ctx, "complete-order", contracts.MethodCompleteOrder, orderID)
	if err != nil {
		return nil, err
	}
	return result(receipt), nil
}

func (c *Client) ChangeGuardians(ctx context.Context, orderID *big.Int, add, remove []common.Address) (*Result, error) {
	if orderID == nil || orderID.Sign() < 0 {
		return nil, errors.InvalidInput("order id must be a non-negative integer")
	}
	if len(add) == 0 && len(remove) == 0 {
		return nil, errors.InvalidInput("nothing to change: give guardians to add or remove")
	}
	if add == nil {
		add = []common.Address{}
	}
	if remove == nil {
		remove = []common.Address{}
	}
	receipt, err := c.invoke(ctx, "change-guardians", contracts.MethodChangeGuardians, orderID, add, remove)
	if err != nil {
		return nil, err
	}
	return result(receipt), nil
}

// SetGuardianPricing sets the signer's price as a guardian.
func (c *Client) SetGuardianPricing(ctx context.Context, price *big.Int) (*Result, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, errors.InvalidInput("price must be positive")
	}
	receipt, err := c.invoke(ctx, "set-guardian-pricing", contracts.MethodSetGuardianPricing, price)
	if err != nil {
		return nil, err
	}
	return result(receipt), nil
}

func (c *Client) invoke(ctx context.Context, action, method string, args ...any) (*types.Receipt, error) {
	c.logger.Info("submitting "+method,
		zap.String("action", action),
		zap.String("contract", c.address.Hex()),
		zap.String("abi_version", c.version),
	)
	return c.invoker.Invoke(ctx, invoker.Call{
		Action:   action,
		Contract: c.address,
		ABI:      c.abi,
		Method:   method,
		Args:     args,
	})
}

func (c *Client) orderResult(receipt *types.Receipt) *Result {
	res := result(receipt)
	event, ok := c.abi.Events[eventOrderCreated]
	if !ok {
		return res
	}
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) < 2 || l.Topics[0] != event.ID {
			continue
		}
		res.OrderID = new(big.Int).SetBytes(l.Topics[1].Bytes())
		break
	}
	return res
}

func result(receipt *types.Receipt) *Result {
	return &Result{TxHash: receipt.TxHash, Block: receipt.BlockNumber.Uint64()}
}

func validateOrder(guardians []common.Address, payment *big.Int) error {
	if len(guardians) == 0 {
		return errors.InvalidInput("at least one guardian is required")
	}
	seen := make(map[common.Address]bool, len(guardians))
	for _, g := range guardians {
		if g == (common.Address{}) {
			return errors.InvalidInput("guardian address must not be zero")
		}
		if seen[g] {
			return errors.InvalidInput(fmt.Sprintf("guardian %s listed twice", g.Hex()))
		}
		seen[g] = true
	}
	if payment == nil || payment.Sign() <= 0 {
		return errors.InvalidInput("payment must be positive")
	}
	return nil
}
