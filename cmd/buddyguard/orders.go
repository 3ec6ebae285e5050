package main

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/buddyguard"
	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
	"github.com/ahwlsqja/buddyguard-ops/internal/contracts"
	"github.com/ahwlsqja/buddyguard-ops/pkg/units"
)

var (
	buddyGuardFlag = &cli.StringFlag{
		Name:  "buddyguard",
		Usage: "Escrow address (default: BUDDYGUARD_ADDRESS)",
	}
	tokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Payment token address (default: TOKEN_ADDRESS)",
	}
	abiVersionFlag = &cli.StringFlag{
		Name:  "abi-version",
		Usage: "Escrow ABI version, v1 or v2 (default: BUDDYGUARD_ABI_VERSION)",
	}
	guardianFlag = &cli.StringSliceFlag{
		Name:     "guardian",
		Usage:    "Guardian address, repeat for each guardian",
		Required: true,
	}
	orderIDFlag = &cli.StringFlag{
		Name:     "order-id",
		Usage:    "Order id as emitted by OrderCreated",
		Required: true,
	}
	decimalsFlag = &cli.UintFlag{
		Name:  "decimals",
		Usage: "Token decimals, overriding the token's decimals()",
	}
	rawFlag = &cli.BoolFlag{
		Name:  "raw",
		Usage: "Amounts are already in base units",
	}
	validityFlag = &cli.DurationFlag{
		Name:  "validity",
		Usage: "Permit lifetime from now (default: PERMIT_VALIDITY)",
	}
)

func createOrderCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "create-order",
		Usage: "Create an order paid from an existing token allowance",
		Flags: []cli.Flag{
			buddyGuardFlag, tokenFlag, abiVersionFlag, guardianFlag, decimalsFlag, rawFlag,
			&cli.StringFlag{Name: "payment", Usage: "Payment amount", Required: true},
		},
		Action: func(c *cli.Context) error {
			escrow, token, guardians, err := orderTargets(c, st.cfg)
			if err != nil {
				return err
			}
			version, err := abiVersion(c, st.cfg)
			if err != nil {
				return err
			}
			requested, err := amountFrom(c, "payment")
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			payment, err := buddyguard.ResolveAmount(c.Context, rt.invoker, token, requested)
			if err != nil {
				return err
			}
			client, err := buddyguard.New(rt.invoker, nil, escrow, version, rt.logger)
			if err != nil {
				return err
			}
			res, err := client.CreateOrder(c.Context, buddyguard.CreateOrderParams{
				Token:     token,
				Guardians: guardians,
				Payment:   payment,
			})
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "order created", res)
			return nil
		},
	}
}

func createOrderWithPermitCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "create-order-with-permit",
		Usage: "Sign a permit for the escrow and create an order with it in one transaction",
		Flags: []cli.Flag{
			buddyGuardFlag, tokenFlag, abiVersionFlag, guardianFlag, decimalsFlag, rawFlag, validityFlag,
			&cli.StringFlag{Name: "payment", Usage: "Payment amount, and the permit value", Required: true},
		},
		Action: func(c *cli.Context) error {
			escrow, token, guardians, err := orderTargets(c, st.cfg)
			if err != nil {
				return err
			}
			version, err := abiVersion(c, st.cfg)
			if err != nil {
				return err
			}
			requested, err := amountFrom(c, "payment")
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			payment, err := buddyguard.ResolveAmount(c.Context, rt.invoker, token, requested)
			if err != nil {
				return err
			}
			client, err := buddyguard.New(rt.invoker, rt.authorizer, escrow, version, rt.logger)
			if err != nil {
				return err
			}
			res, auth, err := client.CreateOrderWithPermit(c.Context, buddyguard.PermitOrderParams{
				Token:     token,
				Guardians: guardians,
				Payment:   payment,
				Validity:  validity(c, st.cfg),
			})
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "order created with permit", res,
				zap.String("permit_nonce", auth.Nonce.String()),
				zap.String("permit_deadline", auth.Deadline.String()),
			)
			return nil
		},
	}
}

func completeOrderCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "complete-order",
		Usage: "Complete an order and pay its guardians",
		Flags: []cli.Flag{buddyGuardFlag, abiVersionFlag, orderIDFlag},
		Action: func(c *cli.Context) error {
			escrow, err := config.Address("BUDDYGUARD_ADDRESS", st.cfg.Contracts.BuddyGuard, c.String("buddyguard"))
			if err != nil {
				return err
			}
			orderID, err := parseOrderID(c.String("order-id"))
			if err != nil {
				return err
			}
			version, err := abiVersion(c, st.cfg)
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := buddyguard.New(rt.invoker, nil, escrow, version, rt.logger)
			if err != nil {
				return err
			}
			res, err := client.CompleteOrder(c.Context, orderID)
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "order completed", res, zap.String("order_id", orderID.String()))
			return nil
		},
	}
}

func changeGuardiansCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "change-guardians",
		Usage: "Add or remove guardians of an order",
		Flags: []cli.Flag{
			buddyGuardFlag, abiVersionFlag, orderIDFlag,
			&cli.StringSliceFlag{Name: "add", Usage: "Guardian to add, repeatable"},
			&cli.StringSliceFlag{Name: "remove", Usage: "Guardian to remove, repeatable"},
		},
		Action: func(c *cli.Context) error {
			escrow, err := config.Address("BUDDYGUARD_ADDRESS", st.cfg.Contracts.BuddyGuard, c.String("buddyguard"))
			if err != nil {
				return err
			}
			orderID, err := parseOrderID(c.String("order-id"))
			if err != nil {
				return err
			}
			add, err := parseAddresses("add", c.StringSlice("add"))
			if err != nil {
				return err
			}
			remove, err := parseAddresses("remove", c.StringSlice("remove"))
			if err != nil {
				return err
			}
			version, err := abiVersion(c, st.cfg)
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			client, err := buddyguard.New(rt.invoker, nil, escrow, version, rt.logger)
			if err != nil {
				return err
			}
			res, err := client.ChangeGuardians(c.Context, orderID, add, remove)
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "guardians changed", res, zap.String("order_id", orderID.String()))
			return nil
		},
	}
}

func setGuardianPricingCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "set-guardian-pricing",
		Usage: "Set the guardian key's price",
		Flags: []cli.Flag{
			buddyGuardFlag, tokenFlag, abiVersionFlag, decimalsFlag, rawFlag,
			&cli.StringFlag{Name: "price", Usage: "Price per order", Required: true},
		},
		Action: func(c *cli.Context) error {
			escrow, err := config.Address("BUDDYGUARD_ADDRESS", st.cfg.Contracts.BuddyGuard, c.String("buddyguard"))
			if err != nil {
				return err
			}
			amount, err := amountFrom(c, "price")
			if err != nil {
				return err
			}
			// the token is only needed to read decimals()
			var token common.Address
			if !amount.Raw && amount.Decimals == nil {
				if token, err = config.Address("TOKEN_ADDRESS", st.cfg.Contracts.Token, c.String("token")); err != nil {
					return err
				}
			}
			version, err := abiVersion(c, st.cfg)
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleGuardian, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			price, err := buddyguard.ResolveAmount(c.Context, rt.invoker, token, amount)
			if err != nil {
				return err
			}
			client, err := buddyguard.New(rt.invoker, nil, escrow, version, rt.logger)
			if err != nil {
				return err
			}
			res, err := client.SetGuardianPricing(c.Context, price)
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "guardian pricing set", res, zap.String("price", price.String()))
			return nil
		},
	}
}

// orderTargets resolves the escrow, token and guardians of an order command.
func orderTargets(c *cli.Context, cfg *config.Config) (common.Address, common.Address, []common.Address, error) {
	escrow, err := config.Address("BUDDYGUARD_ADDRESS", cfg.Contracts.BuddyGuard, c.String("buddyguard"))
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	token, err := config.Address("TOKEN_ADDRESS", cfg.Contracts.Token, c.String("token"))
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	guardians, err := parseAddresses("guardian", c.StringSlice("guardian"))
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return escrow, token, guardians, nil
}

// abiVersion picks the escrow ABI, rejecting unknown versions before any
// network call.
func abiVersion(c *cli.Context, cfg *config.Config) (string, error) {
	v := cfg.Contracts.ABIVersion
	if flag := c.String("abi-version"); flag != "" {
		v = flag
	}
	if _, err := contracts.BuddyGuard(v); err != nil {
		return "", errors.Configuration(err.Error())
	}
	return v, nil
}

func validity(c *cli.Context, cfg *config.Config) time.Duration {
	if c.IsSet("validity") {
		return c.Duration("validity")
	}
	return cfg.Permit.Validity
}

func amountFrom(c *cli.Context, name string) (buddyguard.Amount, error) {
	a := buddyguard.Amount{Value: c.String(name), Raw: c.Bool("raw")}
	if c.IsSet("decimals") {
		raw := c.Uint("decimals")
		if raw > units.MaxDecimals {
			return buddyguard.Amount{}, errors.InvalidInput(fmt.Sprintf("--decimals must be at most %d, got %d", units.MaxDecimals, raw))
		}
		d := uint8(raw)
		a.Decimals = &d
	}
	return a, nil
}

func parseOrderID(raw string) (*big.Int, error) {
	id, err := units.ParseBaseUnits(raw)
	if err != nil {
		return nil, errors.InvalidInput(fmt.Sprintf("order id must be a non-negative integer, got %q", raw))
	}
	return id, nil
}

// parseAddresses accepts repeated flags as well as comma separated lists.
func parseAddresses(flag string, values []string) ([]common.Address, error) {
	var out []common.Address
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !common.IsHexAddress(part) {
				return nil, errors.InvalidInput(fmt.Sprintf("--%s: %q is not an address", flag, part))
			}
			out = append(out, common.HexToAddress(part))
		}
	}
	return out, nil
}

func printResult(c *cli.Context, logger *zap.Logger, msg string, res *buddyguard.Result, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("tx_hash", res.TxHash.Hex()),
		zap.Uint64("block", res.Block),
	}, fields...)
	if res.OrderID != nil {
		fields = append(fields, zap.String("order_id", res.OrderID.String()))
	}
	logger.Info(msg, fields...)

	fmt.Fprintf(c.App.Writer, "tx: %s\nblock: %d\n", res.TxHash.Hex(), res.Block)
	if res.OrderID != nil {
		fmt.Fprintf(c.App.Writer, "order id: %s\n", res.OrderID)
	}
}
