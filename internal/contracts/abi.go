// Package contracts holds the ABIs of the contracts buddyguard talks to.
// Only the functions the tooling calls are declared.
package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI versions of the buddyGuard escrow contract.
const (
	BuddyGuardV1 = "v1"
	BuddyGuardV2 = "v2"
)

// ERC-20 and EIP-2612 method names.
const (
	MethodName            = "name"
	MethodVersion         = "version"
	MethodDecimals        = "decimals"
	MethodNonces          = "nonces"
	MethodDomainSeparator = "DOMAIN_SEPARATOR"
	MethodPermit          = "permit"
	MethodApprove         = "approve"
	MethodAllowance       = "allowance"
	MethodBalanceOf       = "balanceOf"
)

// buddyGuard method names. Argument lists differ between ABI versions.
const (
	MethodCreateOrder           = "createOrder"
	MethodCreateOrderWithPermit = "createOrderWithPermit"
	MethodCompleteOrder         = "completeOrder"
	MethodChangeGuardians       = "changeGuardians"
	MethodSetGuardianPricing    = "setGuardianPricing"
)

const erc20PermitJSON = `[
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"DOMAIN_SEPARATOR","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"permit","stateMutability":"nonpayable","inputs":[
    {"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},
    {"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

// Shared by both buddyGuard versions.
const buddyGuardCommonJSON = `
  {"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"_token","type":"address"},{"name":"_completionTimeout","type":"uint256"}]},
  {"type":"function","name":"completeOrder","stateMutability":"nonpayable","inputs":[{"name":"_orderId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"changeGuardians","stateMutability":"nonpayable","inputs":[
    {"name":"_orderId","type":"uint256"},{"name":"_guardiansToAdd","type":"address[]"},{"name":"_guardiansToRemove","type":"address[]"}],"outputs":[]},
  {"type":"function","name":"setGuardianPricing","stateMutability":"nonpayable","inputs":[{"name":"_price","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"OrderCreated","anonymous":false,"inputs":[
    {"name":"orderId","type":"uint256","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"payment","type":"uint256","indexed":false}]}`

const buddyGuardV1JSON = `[` + buddyGuardCommonJSON + `,
  {"type":"function","name":"createOrder","stateMutability":"nonpayable","inputs":[
    {"name":"_guardians","type":"address[]"},{"name":"_payment","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"createOrderWithPermit","stateMutability":"nonpayable","inputs":[
    {"name":"_guardians","type":"address[]"},{"name":"_payment","type":"uint256"},{"name":"_deadline","type":"uint256"},
    {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

// v2 takes the token per order in createOrder; createOrderWithPermit charges
// the sum of the guardians' prices, which the permit value must equal.
const buddyGuardV2JSON = `[` + buddyGuardCommonJSON + `,
  {"type":"function","name":"createOrder","stateMutability":"nonpayable","inputs":[
    {"name":"_token","type":"address"},{"name":"_guardians","type":"address[]"},{"name":"_payment","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"createOrderWithPermit","stateMutability":"nonpayable","inputs":[
    {"name":"_guardians","type":"address[]"},{"name":"_deadline","type":"uint256"},
    {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]}
]`

const sourceContractJSON = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"_router","type":"address"},{"name":"_link","type":"address"}]}
]`

const buddyGuardCcipJSON = `[
  {"type":"constructor","stateMutability":"nonpayable","inputs":[{"name":"_router","type":"address"}]}
]`

var (
	ERC20Permit    = mustParse("ERC20Permit", erc20PermitJSON)
	buddyGuardV1   = mustParse("buddyGuard v1", buddyGuardV1JSON)
	buddyGuardV2   = mustParse("buddyGuard v2", buddyGuardV2JSON)
	SourceContract = mustParse("SourceContract", sourceContractJSON)
	BuddyGuardCcip = mustParse("buddyGuardCcip", buddyGuardCcipJSON)
)

// BuddyGuard returns the escrow ABI for version.
func BuddyGuard(version string) (abi.ABI, error) {
	switch version {
	case BuddyGuardV1, "":
		return buddyGuardV1, nil
	case BuddyGuardV2:
		return buddyGuardV2, nil
	default:
		return abi.ABI{}, fmt.Errorf("unknown buddyGuard ABI version %q", version)
	}
}

func mustParse(name, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse %s abi: %v", name, err))
	}
	return parsed
}
