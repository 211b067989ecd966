package main

import (
	"encoding/json"
	"fmt"

	"github.com/arkade-os/tokend/internal/core/application"
	"github.com/arkade-os/tokend/internal/core/domain"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

type transferEvent struct {
	LedgerId  string  `json:"ledgerId"`
	Seq       uint64  `json:"seq"`
	From      *string `json:"from"`
	To        string  `json:"to"`
	Value     uint64  `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

type auditReport struct {
	LedgerId string `json:"ledgerId"`
	Ok       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

func toTransferEvents(events []domain.Event) []transferEvent {
	list := make([]transferEvent, 0, len(events))
	for _, event := range events {
		e, ok := event.(domain.TransferEvent)
		if !ok {
			continue
		}
		var from *string
		if !e.IsGenesis() {
			sender := e.From.String()
			from = &sender
		}
		var to string
		if e.To != nil {
			to = e.To.String()
		}
		list = append(list, transferEvent{
			LedgerId:  e.Id,
			Seq:       e.Seq,
			From:      from,
			To:        to,
			Value:     e.Value,
			Timestamp: e.Timestamp,
		})
	}
	return list
}

func toAuditReports(reports []application.AuditReport) []auditReport {
	list := make([]auditReport, 0, len(reports))
	for _, r := range reports {
		report := auditReport{LedgerId: r.LedgerId, Ok: r.Ok()}
		if !r.Ok() {
			report.Error = r.Err.Error()
		}
		list = append(list, report)
	}
	return list
}

// getCaller falls back to the TOKEND_CALLER env var if the flag is not set.
func getCaller(ctx *cli.Context) domain.AccountID {
	if caller := ctx.String(callerFlagName); caller != "" {
		return domain.AccountID(caller)
	}
	return domain.AccountID(viper.GetString(callerFlagName))
}

func printJSON(resp interface{}) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}
