package model

import (
	"strconv"
	"strings"
)

// Transaction is a financial transaction under evaluation. Immutable after ingest.
type Transaction struct {
	TransactionID string  `json:"transaction_id"`
	CustomerID    string  `json:"customer_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Country       string  `json:"country"`
	Channel       string  `json:"channel"`
	DeviceID      string  `json:"device_id"`
	Timestamp     string  `json:"timestamp"` // ISO-8601
	MerchantID    string  `json:"merchant_id"`
}

// CustomerBehavior is a customer's behavioral profile. Immutable after ingest.
type CustomerBehavior struct {
	CustomerID     string   `json:"customer_id"`
	UsualAmountAvg float64  `json:"usual_amount_avg"`
	UsualHours     string   `json:"usual_hours"` // "HH-HH", e.g. "08-20"
	UsualCountries []string `json:"usual_countries"`
	UsualDevices   []string `json:"usual_devices"`
}

// ConsolidatedTransaction is a transaction joined with its customer profile,
// with usual_hours parsed into start/end hours. This is the pipeline input.
type ConsolidatedTransaction struct {
	TransactionID string  `json:"transaction_id"`
	CustomerID    string  `json:"customer_id"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Country       string  `json:"country"`
	Channel       string  `json:"channel"`
	DeviceID      string  `json:"device_id"`
	Timestamp     string  `json:"timestamp"`
	MerchantID    string  `json:"merchant_id"`

	UsualAmountAvg  float64  `json:"usual_amount_avg"`
	UsualHoursStart int      `json:"usual_hours_start"`
	UsualHoursEnd   int      `json:"usual_hours_end"`
	UsualCountries  []string `json:"usual_countries"`
	UsualDevices    []string `json:"usual_devices"`
}

// defaultHoursStart/End are used when a usual_hours string cannot be parsed.
const (
	defaultHoursStart = 8
	defaultHoursEnd   = 20
)

// ParseUsualHours parses an "HH-HH" range into (start, end) hours.
// Malformed input falls back to business hours (8, 20).
func ParseUsualHours(hours string) (start, end int) {
	parts := strings.SplitN(hours, "-", 2)
	if len(parts) != 2 {
		return defaultHoursStart, defaultHoursEnd
	}
	s, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	e, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || s < 0 || s > 23 || e < 0 || e > 23 {
		return defaultHoursStart, defaultHoursEnd
	}
	return s, e
}

// Consolidate joins a transaction with its customer behavior profile.
// The result is deterministic: consolidating the same inputs twice yields
// an identical view.
func Consolidate(txn Transaction, behavior CustomerBehavior) ConsolidatedTransaction {
	start, end := ParseUsualHours(behavior.UsualHours)
	return ConsolidatedTransaction{
		TransactionID:   txn.TransactionID,
		CustomerID:      txn.CustomerID,
		Amount:          txn.Amount,
		Currency:        txn.Currency,
		Country:         txn.Country,
		Channel:         txn.Channel,
		DeviceID:        txn.DeviceID,
		Timestamp:       txn.Timestamp,
		MerchantID:      txn.MerchantID,
		UsualAmountAvg:  behavior.UsualAmountAvg,
		UsualHoursStart: start,
		UsualHoursEnd:   end,
		UsualCountries:  behavior.UsualCountries,
		UsualDevices:    behavior.UsualDevices,
	}
}
