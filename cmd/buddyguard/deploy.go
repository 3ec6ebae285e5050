package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ahwlsqja/buddyguard-ops/internal/common/errors"
	"github.com/ahwlsqja/buddyguard-ops/internal/config"
	"github.com/ahwlsqja/buddyguard-ops/internal/deploy"
)

func deployCmd(st *state) *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy a contract from its Hardhat artifact",
		ArgsUsage: "<" + strings.Join(deploy.Targets(), "|") + ">",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "artifact", Usage: "Hardhat artifact JSON (artifacts/contracts/<File>.sol/<Name>.json)", Required: true},
			tokenFlag,
			&cli.Uint64Flag{Name: "completion-timeout", Usage: "Escrow completion timeout in seconds", Value: deploy.DefaultCompletionTimeout},
			&cli.StringFlag{Name: "router", Usage: "CCIP router address (default: CCIP_ROUTER_ADDRESS)"},
			&cli.StringFlag{Name: "link", Usage: "LINK token address (default: LINK_TOKEN_ADDRESS)"},
			&cli.StringFlag{Name: "records", Usage: "Deployment record file (default: DEPLOYMENTS_PATH)"},
		},
		Action: func(c *cli.Context) error {
			target := c.Args().First()
			if target == "" {
				return errors.InvalidInput(fmt.Sprintf("deploy target is required, one of %v", deploy.Targets()))
			}
			params, err := deployParams(c, st.cfg, target)
			if err != nil {
				return err
			}
			artifact, err := deploy.LoadArtifact(c.String("artifact"))
			if err != nil {
				return err
			}

			rt, err := connect(c.Context, c.Command.Name, st.cfg, config.RoleDeployer, st.logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			path := st.cfg.Deploy.RecordPath
			if c.String("records") != "" {
				path = c.String("records")
			}
			deployer := deploy.NewDeployer(rt.invoker, deploy.NewRecordFile(path), rt.logger)
			rec, err := deployer.Deploy(c.Context, target, artifact, params)
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "%s deployed to: %s\ntx: %s\n", rec.Contract, rec.Address, rec.TxHash)
			return nil
		},
	}
}

// deployParams resolves only the addresses target needs, so an unrelated
// unset variable does not fail the command.
func deployParams(c *cli.Context, cfg *config.Config, target string) (deploy.Params, error) {
	var p deploy.Params
	var err error
	switch target {
	case deploy.TargetBuddyGuard:
		if p.Token, err = config.Address("TOKEN_ADDRESS", cfg.Contracts.Token, c.String("token")); err != nil {
			return p, err
		}
		p.CompletionTimeout = new(big.Int).SetUint64(c.Uint64("completion-timeout"))
	case deploy.TargetSource:
		if p.Router, err = config.Address("CCIP_ROUTER_ADDRESS", cfg.Contracts.Router, c.String("router")); err != nil {
			return p, err
		}
		if p.Link, err = config.Address("LINK_TOKEN_ADDRESS", cfg.Contracts.LinkToken, c.String("link")); err != nil {
			return p, err
		}
	case deploy.TargetCcip:
		if p.Router, err = config.Address("CCIP_ROUTER_ADDRESS", cfg.Contracts.Router, c.String("router")); err != nil {
			return p, err
		}
	default:
		return p, errors.InvalidInput(fmt.Sprintf("unknown deploy target %q (want one of %v)", target, deploy.Targets()))
	}
	return p, nil
}
