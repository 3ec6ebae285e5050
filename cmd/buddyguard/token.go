package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ahwlsqja/buddyguard-ops/internal/buddyguard"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
)

var spenderFlag = &cli.StringFlag{
	Name:  "spender",
	Usage: "Spender address (default: the escrow, BUDDYGUARD_ADDRESS)",
}

func approveTokenCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "approve-token",
		Usage: "Approve a spender, by default the escrow, for the payment token",
		Flags: []cli.Flag{
			tokenFlag, spenderFlag, decimalsFlag, rawFlag,
			&cli.StringFlag{Name: "amount", Usage: "Allowance amount", Required: true},
		},
		Action: func(c *cli.Context) error {
			token, spender, err := tokenTargets(c, st.cfg)
			if err != nil {
				return err
			}
			requested, err := amountFrom(c, "amount")
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			amount, err := buddyguard.ResolveAmount(c.Context, rt.invoker, token, requested)
			if err != nil {
				return err
			}
			res, err := buddyguard.ApproveToken(c.Context, rt.invoker, token, spender, amount, rt.logger)
			if err != nil {
				return err
			}
			printResult(c, rt.logger, "token approved", res,
				zap.String("spender", spender.Hex()),
				zap.String("amount", amount.String()),
			)
			return nil
		},
	}
}

func permitCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:  "permit",
		Usage: "Sign an EIP-2612 permit and print v, r, s and the deadline; nothing is sent",
		Flags: []cli.Flag{
			tokenFlag, spenderFlag, decimalsFlag, rawFlag, validityFlag,
			&cli.StringFlag{Name: "value", Usage: "Permit value", Required: true},
		},
		Action: func(c *cli.Context) error {
			token, spender, err := tokenTargets(c, st.cfg)
			if err != nil {
				return err
			}
			requested, err := amountFrom(c, "value")
			if err != nil {
				return err
			}
			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleUser, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			value, err := buddyguard.ResolveAmount(c.Context, rt.invoker, token, requested)
			if err != nil {
				return err
			}
			auth, err := buddyguard.SignPermit(c.Context, rt.authorizer, token, spender, value, validity(c, st.cfg))
			if err != nil {
				return err
			}

			rt.logger.Info("permit signed",
				zap.String("owner", auth.Owner.Hex()),
				zap.String("spender", auth.Spender.Hex()),
				zap.String("value", auth.Value.String()),
				zap.String("nonce", auth.Nonce.String()),
				zap.String("deadline", auth.Deadline.String()),
			)
			w := c.App.Writer
			fmt.Fprintf(w, "v: %d\n", auth.V)
			fmt.Fprintf(w, "r: %s\n", auth.R.Hex())
			fmt.Fprintf(w, "s: %s\n", auth.S.Hex())
			fmt.Fprintf(w, "deadline: %s\n", auth.Deadline)
			fmt.Fprintf(w, "nonce: %s\n", auth.Nonce)
			fmt.Fprintf(w, "signature: %s\n", auth.Signature.Hex())
			return nil
		},
	}
}

func tokenTargets(c *cli.Context, cfg *config.Config) (common.Address, common.Address, error) {
	token, err := config.Address("TOKEN_ADDRESS", cfg.Contracts.Token, c.String("token"))
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	spender, err := config.Address("BUDDYGUARD_ADDRESS", cfg.Contracts.BuddyGuard, c.String("spender"))
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return token, spender, nil
}
