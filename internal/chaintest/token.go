package chaintest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/pkg/eip712"
)

// TokenConfig shapes a fake EIP-2612 token.
type TokenConfig struct {
	Name     string
	Decimals uint8
	// Version is what version() returns. Empty means the token has no
	// version() function and its domain uses "1".
	Version string
	// NoDomainSeparator removes DOMAIN_SEPARATOR().
	NoDomainSeparator bool
}

// Token is an ERC-20 with OpenZeppelin ERC20Permit semantics.
type Token struct {
	cfg       TokenConfig
	chainID   *big.Int
	address   common.Address
	separator *common.Hash

	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	nonces     map[common.Address]*big.Int
}

// DeployToken registers a new token on c.
func DeployToken(c *Chain, cfg TokenConfig) *Token {
	t := &Token{
		cfg:        cfg,
		chainID:    new(big.Int).Set(c.chainID),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		nonces:     make(map[common.Address]*big.Int),
	}
	t.address = c.Register(t)
	return t
}

func (t *Token) Address() common.Address { return t.address }

func (t *Token) Code() []byte { return []byte{0x60, 0x80, 0x60, 0x40, 0xe2} }

// Domain is the EIP-712 domain the token verifies permits against.
func (t *Token) Domain() eip712.Domain {
	version := t.cfg.Version
	if version == "" {
		version = "1"
	}
	return eip712.Domain{
		Name:              t.cfg.Name,
		Version:           version,
		ChainID:           new(big.Int).Set(t.chainID),
		VerifyingContract: t.address,
	}
}

// OverrideDomainSeparator makes DOMAIN_SEPARATOR() return h while permits
// are still checked against Domain().
func (t *Token) OverrideDomainSeparator(h common.Hash) {
	t.separator = &h
}

// Mint credits amount to owner. Test setup only.
func (t *Token) Mint(owner common.Address, amount *big.Int) {
	t.balances[owner] = new(big.Int).Add(t.BalanceOf(owner), amount)
}

func (t *Token) BalanceOf(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

func (t *Token) Nonce(owner common.Address) *big.Int {
	if n, ok := t.nonces[owner]; ok {
		return new(big.Int).Set(n)
	}
	return new(big.Int)
}

// transferFrom is reachable from other fake contracts through the
// unexported selector below, never through the public ABI.
var transferFromMethod = abi.NewMethod("transferFrom", "transferFrom", abi.Function, "nonpayable", false, false,
	abi.Arguments{{Name: "from", Type: mustType("address")}, {Name: "to", Type: mustType("address")}, {Name: "amount", Type: mustType("uint256")}},
	abi.Arguments{{Name: "", Type: mustType("bool")}},
)

var transferMethod = abi.NewMethod("transfer", "transfer", abi.Function, "nonpayable", false, false,
	abi.Arguments{{Name: "to", Type: mustType("address")}, {Name: "amount", Type: mustType("uint256")}},
	abi.Arguments{{Name: "", Type: mustType("bool")}},
)

func (t *Token) Execute(env *Env, input []byte) ([]byte, error) {
	if len(input) < 4 {
		return nil, Revert("")
	}
	selector := input[:4]

	switch string(selector) {
	case string(transferFromMethod.ID):
		args, err := transferFromMethod.Inputs.Unpack(input[4:])
		if err != nil {
			return nil, Revert("")
		}
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := t.spendAllowance(env, from, env.From, amount); err != nil {
			return nil, err
		}
		if err := t.transfer(env, from, to, amount); err != nil {
			return nil, err
		}
		return transferFromMethod.Outputs.Pack(true)
	case string(transferMethod.ID):
		args, err := transferMethod.Inputs.Unpack(input[4:])
		if err != nil {
			return nil, Revert("")
		}
		if err := t.transfer(env, env.From, args[0].(common.Address), args[1].(*big.Int)); err != nil {
			return nil, err
		}
		return transferMethod.Outputs.Pack(true)
	}

	method, err := contracts.ERC20Permit.MethodById(selector)
	if err != nil {
		return nil, Revert("")
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, Revert("")
	}

	switch method.Name {
	case contracts.MethodName:
		return method.Outputs.Pack(t.cfg.Name)
	case contracts.MethodVersion:
		if t.cfg.Version == "" {
			return nil, Revert("")
		}
		return method.Outputs.Pack(t.cfg.Version)
	case contracts.MethodDecimals:
		return method.Outputs.Pack(t.cfg.Decimals)
	case contracts.MethodNonces:
		return method.Outputs.Pack(t.Nonce(args[0].(common.Address)))
	case contracts.MethodDomainSeparator:
		if t.cfg.NoDomainSeparator {
			return nil, Revert("")
		}
		sep := t.separator
		if sep == nil {
			h, err := eip712.DomainSeparator(t.Domain())
			if err != nil {
				return nil, Revert("")
			}
			sep = &h
		}
		return method.Outputs.Pack([32]byte(*sep))
	case contracts.MethodAllowance:
		return method.Outputs.Pack(t.Allowance(args[0].(common.Address), args[1].(common.Address)))
	case contracts.MethodBalanceOf:
		return method.Outputs.Pack(t.BalanceOf(args[0].(common.Address)))
	case contracts.MethodApprove:
		if env.Commit {
			t.setAllowance(env.From, args[0].(common.Address), args[1].(*big.Int))
		}
		return method.Outputs.Pack(true)
	case contracts.MethodPermit:
		return nil, t.permit(env,
			args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int), args[3].(*big.Int),
			eip712.Signature{V: args[4].(uint8), R: args[5].([32]byte), S: args[6].([32]byte)},
		)
	}
	return nil, Revert("")
}

func (t *Token) permit(env *Env, owner, spender common.Address, value, deadline *big.Int, sig eip712.Signature) error {
	if new(big.Int).SetUint64(env.Time).Cmp(deadline) > 0 {
		return Revert("ERC20Permit: expired deadline")
	}
	msg := eip712.PermitMessage{
		Owner:    owner,
		Spender:  spender,
		Value:    value,
		Nonce:    t.Nonce(owner),
		Deadline: deadline,
	}
	signer, err := eip712.RecoverSigner(t.Domain(), msg, sig)
	if err != nil || signer != owner {
		return Revert("ERC20Permit: invalid signature")
	}
	if env.Commit {
		t.nonces[owner] = new(big.Int).Add(msg.Nonce, big.NewInt(1))
		t.setAllowance(owner, spender, value)
	}
	return nil
}

func (t *Token) spendAllowance(env *Env, owner, spender common.Address, amount *big.Int) error {
	current := t.Allowance(owner, spender)
	if current.Cmp(amount) < 0 {
		return Revert("ERC20: insufficient allowance")
	}
	if env.Commit {
		t.setAllowance(owner, spender, new(big.Int).Sub(current, amount))
	}
	return nil
}

func (t *Token) transfer(env *Env, from, to common.Address, amount *big.Int) error {
	balance := t.BalanceOf(from)
	if balance.Cmp(amount) < 0 {
		return Revert("ERC20: transfer amount exceeds balance")
	}
	if env.Commit {
		t.balances[from] = new(big.Int).Sub(balance, amount)
		t.balances[to] = new(big.Int).Add(t.BalanceOf(to), amount)
	}
	return nil
}

func (t *Token) setAllowance(owner, spender common.Address, amount *big.Int) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func packTransferFrom(from, to common.Address, amount *big.Int) []byte {
	packed, err := transferFromMethod.Inputs.Pack(from, to, amount)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, transferFromMethod.ID...), packed...)
}

func packTransfer(to common.Address, amount *big.Int) []byte {
	packed, err := transferMethod.Inputs.Pack(to, amount)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, transferMethod.ID...), packed...)
}
