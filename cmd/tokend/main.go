package main

import (
	"fmt"
	"os"

	"github.com/arkade-os/tokend/internal/config"
	"github.com/arkade-os/tokend/internal/core/application"
	"github.com/arkade-os/tokend/internal/core/domain"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// Version will be set during build time
var Version string

var svc application.Service

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "tokend"
	app.Usage = "fixed-supply token ledger"
	app.Commands = append(
		app.Commands,
		&deployCommand,
		&supplyCommand,
		&balanceCommand,
		&ownerCommand,
		&infoCommand,
		&transferCommand,
		&ledgersCommand,
		&eventsCommand,
		&auditCommand,
	)
	app.Flags = config.Flags
	app.Before = func(ctx *cli.Context) error {
		cfg, err := config.LoadConfig(ctx)
		if err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %s", err)
		}

		log.SetLevel(log.Level(cfg.LogLevel))
		log.Debugf("tokend config: %s", cfg)

		appSvc, err := cfg.AppService()
		if err != nil {
			return fmt.Errorf("failed to create service: %s", err)
		}
		if err := appSvc.Start(); err != nil {
			return fmt.Errorf("failed to start service: %s", err)
		}
		svc = appSvc

		log.RegisterExitHandler(svc.Stop)
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if svc != nil {
			svc.Stop()
		}
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

var (
	deployCommand = cli.Command{
		Name:   "deploy",
		Usage:  "Create a new ledger crediting the whole supply to the caller",
		Action: deploy,
		Flags:  []cli.Flag{callerFlag, supplyFlag},
	}
	supplyCommand = cli.Command{
		Name:   "supply",
		Usage:  "Show the total supply of a ledger",
		Action: totalSupply,
		Flags:  []cli.Flag{ledgerFlag(true)},
	}
	balanceCommand = cli.Command{
		Name:   "balance",
		Usage:  "Show the balance of an account",
		Action: balanceOf,
		Flags:  []cli.Flag{ledgerFlag(true), accountFlag},
	}
	ownerCommand = cli.Command{
		Name:   "owner",
		Usage:  "Show the account that created a ledger",
		Action: owner,
		Flags:  []cli.Flag{ledgerFlag(true)},
	}
	infoCommand = cli.Command{
		Name:   "info",
		Usage:  "Show a summary of a ledger",
		Action: ledgerInfo,
		Flags:  []cli.Flag{ledgerFlag(true)},
	}
	transferCommand = cli.Command{
		Name:   "transfer",
		Usage:  "Transfer value from the caller to another account",
		Action: transfer,
		Flags:  []cli.Flag{ledgerFlag(true), callerFlag, toFlag, valueFlag},
	}
	ledgersCommand = cli.Command{
		Name:   "ledgers",
		Usage:  "List all ledgers",
		Action: listLedgers,
	}
	eventsCommand = cli.Command{
		Name:   "events",
		Usage:  "Show the transfer history of a ledger",
		Action: listEvents,
		Flags:  []cli.Flag{ledgerFlag(true)},
	}
	auditCommand = cli.Command{
		Name:   "audit",
		Usage:  "Verify that balances add up to the total supply, for one or all ledgers",
		Action: audit,
		Flags:  []cli.Flag{ledgerFlag(false)},
	}
)

func deploy(ctx *cli.Context) error {
	ledgerId, events, err := svc.Deploy(ctx.Context, getCaller(ctx), ctx.Uint64(supplyFlagName))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId": ledgerId,
		"events":   toTransferEvents(events),
	})
}

func totalSupply(ctx *cli.Context) error {
	ledgerId := ctx.String(ledgerFlagName)
	supply, err := svc.TotalSupply(ctx.Context, ledgerId)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId":    ledgerId,
		"totalSupply": supply,
	})
}

func balanceOf(ctx *cli.Context) error {
	ledgerId := ctx.String(ledgerFlagName)
	account := domain.AccountID(ctx.String(accountFlagName))
	balance, err := svc.BalanceOf(ctx.Context, ledgerId, account)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId": ledgerId,
		"account":  account,
		"balance":  balance,
	})
}

func owner(ctx *cli.Context) error {
	ledgerId := ctx.String(ledgerFlagName)
	ledgerOwner, err := svc.Owner(ctx.Context, ledgerId)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId": ledgerId,
		"owner":    ledgerOwner,
	})
}

func ledgerInfo(ctx *cli.Context) error {
	info, err := svc.GetLedgerInfo(ctx.Context, ctx.String(ledgerFlagName))
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId":    info.Id,
		"owner":       info.Owner,
		"totalSupply": info.TotalSupply,
		"version":     info.Version,
		"holders":     info.Holders,
		"createdAt":   info.CreatedAt,
		"updatedAt":   info.UpdatedAt,
	})
}

func transfer(ctx *cli.Context) error {
	res, err := svc.Transfer(
		ctx.Context,
		ctx.String(ledgerFlagName),
		getCaller(ctx),
		domain.AccountID(ctx.String(toFlagName)),
		ctx.Uint64(valueFlagName),
	)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ok":     res.Ok,
		"events": toTransferEvents(res.Events),
	})
}

func listLedgers(ctx *cli.Context) error {
	ids, err := svc.ListLedgers(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgers": ids,
	})
}

func listEvents(ctx *cli.Context) error {
	ledgerId := ctx.String(ledgerFlagName)
	events, err := svc.GetEvents(ctx.Context, ledgerId)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"ledgerId": ledgerId,
		"events":   toTransferEvents(events),
	})
}

func audit(ctx *cli.Context) error {
	if ledgerId := ctx.String(ledgerFlagName); ledgerId != "" {
		report := application.AuditReport{LedgerId: ledgerId}
		if err := svc.Audit(ctx.Context, ledgerId); err != nil {
			report.Err = err
		}
		return printJSON(map[string]interface{}{
			"reports": toAuditReports([]application.AuditReport{report}),
		})
	}

	reports, err := svc.AuditAll(ctx.Context)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"reports": toAuditReports(reports),
	})
}
