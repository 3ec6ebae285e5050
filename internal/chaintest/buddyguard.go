package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
)

type order struct {
	user      common.Address
	token     common.Address
	guardians []common.Address
	payment   *big.Int
	completed bool
}

// Escrow is the buddyGuard contract for one ABI version. Order ids start at 0.
type Escrow struct {
	version string
	abi     abi.ABI
	address common.Address
	token   common.Address
	timeout *big.Int

	orders []*order
	prices map[common.Address]*big.Int
}

// NewEscrow builds an escrow for version paying out in token.
func NewEscrow(version string, token common.Address, completionTimeout *big.Int) (*Escrow, error) {
	parsed, err := contracts.BuddyGuard(version)
	if err != nil {
		return nil, err
	}
	return &Escrow{
		version: version,
		abi:     parsed,
		token:   token,
		timeout: completionTimeout,
		prices:  make(map[common.Address]*big.Int),
	}, nil
}

// DeployEscrow registers a new escrow on c.
func DeployEscrow(c *Chain, version string, token common.Address) *Escrow {
	e, err := NewEscrow(version, token, big.NewInt(172800))
	if err != nil {
		panic(err)
	}
	e.address = c.Register(e)
	return e
}

// EscrowFactory constructs escrows from deployment calldata.
func EscrowFactory(version string) Factory {
	return func(_ *Chain, self common.Address, args []byte) (Contract, error) {
		parsed, err := contracts.BuddyGuard(version)
		if err != nil {
			return nil, err
		}
		values, err := parsed.Constructor.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		e, err := NewEscrow(version, values[0].(common.Address), values[1].(*big.Int))
		if err != nil {
			return nil, err
		}
		e.address = self
		return e, nil
	}
}

func (e *Escrow) Address() common.Address { return e.address }

func (e *Escrow) Token() common.Address { return e.token }

func (e *Escrow) CompletionTimeout() *big.Int { return new(big.Int).Set(e.timeout) }

func (e *Escrow) Code() []byte { return []byte{0x60, 0x80, 0x60, 0x40, 0xb6} }

// Orders reports how many orders exist.
func (e *Escrow) Orders() int { return len(e.orders) }

// Completed reports whether order id exists and is completed.
func (e *Escrow) Completed(id int) bool {
	return id < len(e.orders) && e.orders[id].completed
}

// Guardians returns the guardians of order id.
func (e *Escrow) Guardians(id int) []common.Address {
	if id >= len(e.orders) {
		return nil
	}
	return append([]common.Address{}, e.orders[id].guardians...)
}

// Price returns the price a guardian has set, or zero.
func (e *Escrow) Price(guardian common.Address) *big.Int {
	if p, ok := e.prices[guardian]; ok {
		return new(big.Int).Set(p)
	}
	return new(big.Int)
}

func (e *Escrow) Execute(env *Env, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, Revert("")
	}
	method, err := e.abi.MethodById(input[:4])
	if err != nil {
		return nil, Revert("")
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, Revert("")
	}

	switch method.Name {
	case contracts.MethodCreateOrder:
		if e.version == contracts.BuddyGuardV2 {
			return nil, e.createOrder(env, args[0].(common.Address), args[1].([]common.Address), args[2].(*big.Int), nil)
		}
		return nil, e.createOrder(env, e.token, args[0].([]common.Address), args[1].(*big.Int), nil)
	case contracts.MethodCreateOrderWithPermit:
		if e.version == contracts.BuddyGuardV2 {
			guardians := args[0].([]common.Address)
			payment := e.pricing(guardians)
			return nil, e.createOrder(env, e.token, guardians, payment,
				&permitArgs{deadline: args[1].(*big.Int), v: args[2].(uint8), r: args[3].([32]byte), s: args[4].([32]byte)})
		}
		return nil, e.createOrder(env, e.token, args[0].([]common.Address), args[1].(*big.Int),
			&permitArgs{deadline: args[2].(*big.Int), v: args[3].(uint8), r: args[4].([32]byte), s: args[5].([32]byte)})
	case contracts.MethodCompleteOrder:
		return nil, e.completeOrder(env, args[0].(*big.Int))
	case contracts.MethodChangeGuardians:
		return nil, e.changeGuardians(env, args[0].(*big.Int), args[1].([]common.Address), args[2].([]common.Address))
	case contracts.MethodSetGuardianPricing:
		price := args[0].(*big.Int)
		if price.Sign() <= 0 {
			return nil, Revert("price must be positive")
		}
		if env.Commit {
			e.prices[env.From] = new(big.Int).Set(price)
		}
		return nil, nil
	}
	return nil, Revert("")
}

type permitArgs struct {
	deadline *big.Int
	v        uint8
	r, s     [32]byte
}

func (e *Escrow) pricing(guardians []common.Address) *big.Int {
	sum := new(big.Int)
	for _, g := range guardians {
		sum.Add(sum, e.Price(g))
	}
	return sum
}

func (e *Escrow) createOrder(env *Env, token common.Address, guardians []common.Address, payment *big.Int, permit *permitArgs) error {
	if len(guardians) == 0 {
		return Revert("at least one guardian required")
	}
	if payment.Sign() <= 0 {
		return Revert("payment must be positive")
	}

	if permit != nil {
		input, err := contracts.ERC20Permit.Pack(contracts.MethodPermit,
			env.From, env.Self, payment, permit.deadline, permit.v, permit.r, permit.s)
		if err != nil {
			return Revert("")
		}
		if _, err := env.Invoke(token, input); err != nil {
			return err
		}
	}
	if err := e.pull(env, token, env.From, payment, permit != nil); err != nil {
		return err
	}

	if !env.Commit {
		return nil
	}
	id := big.NewInt(int64(len(e.orders)))
	e.orders = append(e.orders, &order{
		user:      env.From,
		token:     token,
		guardians: append([]common.Address{}, guardians...),
		payment:   new(big.Int).Set(payment),
	})

	event := e.abi.Events["OrderCreated"]
	data, err := event.Inputs.NonIndexed().Pack(payment)
	if err != nil {
		return Revert("")
	}
	env.Emit([]common.Hash{event.ID, common.BigToHash(id), common.BytesToHash(env.From.Bytes())}, data)
	return nil
}

// pull moves amount from owner into the escrow. Before a commit a permit's
// allowance does not exist yet, so only the balance is checked.
func (e *Escrow) pull(env *Env, token, owner common.Address, amount *big.Int, permitted bool) error {
	if !env.Commit && permitted {
		out, err := env.Invoke(token, mustPack(contracts.ERC20Permit, contracts.MethodBalanceOf, owner))
		if err != nil {
			return err
		}
		balance := new(big.Int).SetBytes(out)
		if balance.Cmp(amount) < 0 {
			return Revert("ERC20: transfer amount exceeds balance")
		}
		return nil
	}
	_, err := env.Invoke(token, packTransferFrom(owner, env.Self, amount))
	return err
}

func (e *Escrow) lookup(env *Env, id *big.Int) (*order, error) {
	if !id.IsInt64() || id.Int64() >= int64(len(e.orders)) {
		return nil, Revert("order does not exist")
	}
	o := e.orders[id.Int64()]
	if o.user != env.From {
		return nil, Revert("only order owner")
	}
	if o.completed {
		return nil, Revert("order already completed")
	}
	return o, nil
}

// completeOrder splits the payment between the guardians; the remainder goes to the first.
func (e *Escrow) completeOrder(env *Env, id *big.Int) error {
	o, err := e.lookup(env, id)
	if err != nil {
		return err
	}

	n := big.NewInt(int64(len(o.guardians)))
	share, rest := new(big.Int).QuoRem(o.payment, n, new(big.Int))
	for idx, g := range o.guardians {
		amount := new(big.Int).Set(share)
		if idx == 0 {
			amount.Add(amount, rest)
		}
		if amount.Sign() == 0 {
			continue
		}
		if _, err := env.Invoke(o.token, packTransfer(g, amount)); err != nil {
			return err
		}
	}

	if env.Commit {
		o.completed = true
	}
	return nil
}

func (e *Escrow) changeGuardians(env *Env, id *big.Int, add, remove []common.Address) error {
	o, err := e.lookup(env, id)
	if err != nil {
		return err
	}

	next := make([]common.Address, 0, len(o.guardians)+len(add))
	removed := make(map[common.Address]bool, len(remove))
	for _, r := range remove {
		removed[r] = true
	}
	for _, g := range o.guardians {
		if removed[g] {
			delete(removed, g)
			continue
		}
		next = append(next, g)
	}
	if len(removed) > 0 {
		return Revert("guardian not assigned to order")
	}
	next = append(next, add...)
	if len(next) == 0 {
		return Revert("at least one guardian required")
	}

	if env.Commit {
		o.guardians = next
	}
	return nil
}

// Stub is a deployed contract with code and no callable functions.
type Stub struct {
	Args []any
}

func (s *Stub) Code() []byte { return []byte{0x60, 0x80, 0x60, 0x40, 0x00} }

func (s *Stub) Execute(*Env, []byte) ([]byte, error) { return nil, Revert("") }

// StubFactory deploys a Stub holding the constructor arguments decoded with parsed.
func StubFactory(parsed abi.ABI) Factory {
	return func(_ *Chain, _ common.Address, args []byte) (Contract, error) {
		values, err := parsed.Constructor.Inputs.Unpack(args)
		if err != nil {
			return nil, fmt.Errorf("unpack constructor: %w", err)
		}
		return &Stub{Args: values}, nil
	}
}

func mustPack(parsed abi.ABI, method string, args ...any) []byte {
	packed, err := parsed.Pack(method, args...)
	if err != nil {
		panic(err)
	}
	return packed
}
