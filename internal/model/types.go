package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// Account describes a trading account and the regions that serve it.
type Account struct {
	// ID is the primary account identifier.
	ID string

	// Regions maps a region name to the account identifier served in that
	// region. The primary region maps to ID itself; other regions map to
	// replica identifiers. Immutable for the life of a connection.
	Regions map[string]string
}

// RegionAccountIDs returns the account identifiers across all regions,
// sorted and deduplicated.
func (a Account) RegionAccountIDs() []string {
	ids := make([]string, 0, len(a.Regions))
	for _, id := range a.Regions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// -----------------------------------------------------------------------------
// Instances
// -----------------------------------------------------------------------------

// Instance is a parsed instance identifier.
type Instance struct {
	Region  string // Geographic region (e.g. "vint-hill")
	Replica int    // Process replica index within the region
	Stream  string // Stream tag naming the serving process (e.g. "ps-mpa-1")
}

// ParseInstance parses an instance identifier of the form
// "region:replicaIndex:streamTag". The stream tag is treated as opaque
// and may itself contain colons.
func ParseInstance(id string) (Instance, error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 {
		return Instance{}, fmt.Errorf("instance id %q: want region:replicaIndex:streamTag", id)
	}
	if parts[0] == "" {
		return Instance{}, fmt.Errorf("instance id %q: empty region", id)
	}
	replica, err := strconv.Atoi(parts[1])
	if err != nil || replica < 0 {
		return Instance{}, fmt.Errorf("instance id %q: bad replica index %q", id, parts[1])
	}
	if parts[2] == "" {
		return Instance{}, fmt.Errorf("instance id %q: empty stream tag", id)
	}
	return Instance{Region: parts[0], Replica: replica, Stream: parts[2]}, nil
}

// String formats the instance back into its identifier form.
func (i Instance) String() string {
	return i.Region + ":" + strconv.Itoa(i.Replica) + ":" + i.Stream
}

// -----------------------------------------------------------------------------
// Trading
// -----------------------------------------------------------------------------

// TradeRequest describes an order submitted through a connection.
type TradeRequest struct {
	Symbol     string  `json:"symbol"`
	Action     string  `json:"action"` // "buy" or "sell"
	Volume     float64 `json:"volume"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	ClientID   string  `json:"client_id,omitempty"`
}

// TradeResult is the terminal's response to an executed order.
type TradeResult struct {
	OrderID    string    `json:"order_id"`
	PositionID string    `json:"position_id,omitempty"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ExecutedAt time.Time `json:"executed_at"`
}

// MarginRequest asks the terminal to price the margin for a hypothetical order.
type MarginRequest struct {
	Symbol    string  `json:"symbol"`
	Type      string  `json:"type"` // "buy" or "sell"
	Volume    float64 `json:"volume"`
	OpenPrice float64 `json:"open_price"`
}

// Margin is the terminal's margin calculation.
type Margin struct {
	Margin   float64 `json:"margin"`
	Currency string  `json:"currency"`
}
