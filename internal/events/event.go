// Package events normalises inbound payment events into a single internal shape.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
)

// ErrMalformed is returned when a payload cannot be decoded or carries unparseable fields.
var ErrMalformed = errors.New("events: malformed payload")

// maxNesting is how many "data" levels below the top-level object are probed.
const maxNesting = 2

// Event is the canonical form of a payment-side message, whatever its original nesting.
type Event struct {
	RoutingKey    string
	EventType     string
	SaleID        *int64
	TransactionID *int64
	ListingID     *int64
	BuyerID       *int64
	SellerID      *int64
	Amount        decimal.NullDecimal
	FeeAmount     decimal.NullDecimal
	Currency      *string
	Status        string
	CreatedAt     *time.Time
	UpdatedAt     *time.Time
	CompletedAt   *time.Time
}

// Normalize decodes body and probes the top level, then data, then data.data for every field.
// The outermost non-empty value wins.
func Normalize(routingKey string, body []byte) (Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var top map[string]any
	if err := dec.Decode(&top); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if top == nil {
		return Event{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}

	p := probe{layers: []map[string]any{top}}
	current := top
	for i := 0; i < maxNesting; i++ {
		nested, ok := current["data"].(map[string]any)
		if !ok {
			break
		}
		p.layers = append(p.layers, nested)
		current = nested
	}

	evt := Event{
		RoutingKey: strings.TrimSpace(routingKey),
		EventType:  p.str("event_type"),
		Status:     p.str("status"),
		Currency:   optionalString(strings.ToUpper(p.str("currency"))),
	}
	if evt.EventType == "" {
		evt.EventType = EventTypeFromRoutingKey(evt.RoutingKey)
	}

	var err error
	ids := []struct {
		key string
		dst **int64
	}{
		{"sale_id", &evt.SaleID},
		{"transaction_id", &evt.TransactionID},
		{"listing_id", &evt.ListingID},
		{"buyer_id", &evt.BuyerID},
		{"seller_id", &evt.SellerID},
	}
	for _, id := range ids {
		if *id.dst, err = p.int(id.key); err != nil {
			return Event{}, err
		}
	}
	if evt.Amount, err = p.decimal("amount"); err != nil {
		return Event{}, err
	}
	if evt.FeeAmount, err = p.decimal("fee_amount"); err != nil {
		return Event{}, err
	}
	if evt.CreatedAt, err = p.time("created_at"); err != nil {
		return Event{}, err
	}
	if evt.UpdatedAt, err = p.time("updated_at"); err != nil {
		return Event{}, err
	}
	if evt.CompletedAt, err = p.time("completed_at"); err != nil {
		return Event{}, err
	}

	return evt, nil
}

// EventTypeFromRoutingKey derives "escrow_funds_held" from "escrow.funds_held".
func EventTypeFromRoutingKey(routingKey string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(routingKey)), ".", "_")
}

// HasParticipants reports whether the full (listing, buyer, seller) tuple is present.
func (e Event) HasParticipants() bool {
	return e.ListingID != nil && e.BuyerID != nil && e.SellerID != nil
}

// Shadow returns the transaction fields carried by the event. Status is resolved by the caller.
func (e Event) Shadow() domain.Transaction {
	var id int64
	if e.TransactionID != nil {
		id = *e.TransactionID
	}
	return domain.Transaction{
		ID:          id,
		ListingID:   e.ListingID,
		BuyerID:     e.BuyerID,
		SellerID:    e.SellerID,
		Amount:      e.Amount,
		Currency:    e.Currency,
		FeeAmount:   e.FeeAmount,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		CompletedAt: e.CompletedAt,
	}
}

type probe struct {
	layers []map[string]any
}

func (p probe) lookup(key string) (any, bool) {
	for _, layer := range p.layers {
		v, ok := layer[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func (p probe) str(key string) string {
	v, ok := p.lookup(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func (p probe) int(key string) (*int64, error) {
	v, ok := p.lookup(key)
	if !ok {
		return nil, nil
	}
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return nil, fmt.Errorf("%w: %s has type %T", ErrMalformed, key, v)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) {
		return nil, fmt.Errorf("%w: %s=%q is not an integer", ErrMalformed, key, raw)
	}
	// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("%w: %s=%q is out of range", ErrMalformed, key, raw)
	}
	n := int64(f)
	return &n, nil
}

func (p probe) decimal(key string) (decimal.NullDecimal, error) {
	raw := p.str(key)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %s=%q: %v", ErrMalformed, key, raw, err)
	}
	return decimal.NewNullDecimal(d), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (p probe) time(key string) (*time.Time, error) {
	raw := p.str(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s=%q is not ISO-8601", ErrMalformed, key, raw)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
