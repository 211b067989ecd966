package main

import (
	"github.com/urfave/cli/v2"
)

const (
	ledgerFlagName  = "ledger"
	callerFlagName  = "caller"
	accountFlagName = "account"
	toFlagName      = "to"
	supplyFlagName  = "supply"
	valueFlagName   = "value"
)

var (
	ledgerFlag = func(required bool) *cli.StringFlag {
		return &cli.StringFlag{
			Name:     ledgerFlagName,
			Usage:    "id of the ledger",
			Required: required,
		}
	}
	callerFlag = &cli.StringFlag{
		Name:  callerFlagName,
		Usage: "account invoking the operation, defaults to TOKEND_CALLER",
	}
	accountFlag = &cli.StringFlag{
		Name:     accountFlagName,
		Usage:    "account to query",
		Required: true,
	}
	toFlag = &cli.StringFlag{
		Name:     toFlagName,
		Usage:    "recipient account",
		Required: true,
	}
	supplyFlag = &cli.Uint64Flag{
		Name:  supplyFlagName,
		Usage: "initial supply credited to the caller",
	}
	valueFlag = &cli.Uint64Flag{
		Name:     valueFlagName,
		Usage:    "amount to transfer",
		Required: true,
	}
)
