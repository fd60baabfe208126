// Package agents implements the evaluation stages: context enrichment,
// behavioral scoring, policy retrieval, external intel, evidence freezing,
// the two-sided debate, the arbiter, explainability, and the HITL gate.
package agents

import (
	"context"
	"math"
	"time"

	"github.com/centinela-ai/centinela/internal/pipeline"
)

// Signal vocabulary. These exact strings appear in decisions and audit
// events; downstream rules match on them.
const (
	SignalAmountOutOfRange = "Monto fuera de rango"
	SignalUnusualHour      = "Horario no habitual"
	SignalUnusualCountry   = "País no habitual"
	SignalNewDevice        = "Dispositivo nuevo"
	SignalExternalAlert    = "Alerta externa"
)

// ratioWhenNoHistory is the amount ratio assigned when the customer has no
// usual average to compare against.
const ratioWhenNoHistory = 999.0

// ContextStage derives the base metrics and signals from the consolidated
// transaction. It runs first and everything downstream builds on its output.
type ContextStage struct{}

// NewContextStage creates the stage.
func NewContextStage() *ContextStage { return &ContextStage{} }

func (*ContextStage) Name() string { return "TransactionContext" }

func (*ContextStage) Run(_ context.Context, state *pipeline.EvalState) error {
	txn := state.Transaction

	hour := parseHour(txn.Timestamp)
	ratio := ratioWhenNoHistory
	if txn.UsualAmountAvg > 0 {
		ratio = round2(txn.Amount / txn.UsualAmountAvg)
	}
	hourOutside := hour < txn.UsualHoursStart || hour > txn.UsualHoursEnd
	newCountry := !containsString(txn.UsualCountries, txn.Country)
	newDevice := !containsString(txn.UsualDevices, txn.DeviceID)

	state.Metrics.Hour = &hour
	state.Metrics.AmountRatio = &ratio
	state.Metrics.HourOutside = &hourOutside
	state.Metrics.NewCountry = &newCountry
	state.Metrics.NewDevice = &newDevice

	if ratio > 3 {
		state.AddSignal(SignalAmountOutOfRange)
	}
	if hourOutside {
		state.AddSignal(SignalUnusualHour)
	}
	if newCountry {
		state.AddSignal(SignalUnusualCountry)
	}
	if newDevice {
		state.AddSignal(SignalNewDevice)
	}
	return nil
}

// parseHour extracts the hour from an ISO-8601 timestamp. Unparseable
// timestamps fall back to midday so a bad clock never looks nocturnal.
func parseHour(ts string) int {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Hour()
		}
	}
	return 12
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
