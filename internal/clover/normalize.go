package clover

import (
	"encoding/json"
	"fmt"
	"time"

	"posbridge/internal/bridge"
)

// Wire shapes for the Clover order payload. Amounts are minor-unit
// integers; the division by 100 below is the single place in the bridge
// where minor units become major units.

type cloverOrder struct {
	ID               string           `json:"id"`
	Currency         string           `json:"currency"`
	Total            int64            `json:"total"`
	TaxAmount        *int64           `json:"taxAmount"`
	TaxRemoved       bool             `json:"taxRemoved"`
	TipAmount        *int64           `json:"tipAmount"`
	CreatedTime      int64            `json:"createdTime"`
	LastModifiedTime int64            `json:"lastModifiedTime"`
	LineItems        *cloverElements  `json:"lineItems"`
	Discounts        *cloverDiscounts `json:"discounts"`
	Customer         *cloverRef       `json:"customer"`
	Tender           *cloverRef       `json:"tender"`
}

type cloverElements struct {
	Elements []cloverLineItem `json:"elements"`
}

type cloverLineItem struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Price         int64            `json:"price"`
	Quantity      int              `json:"quantity"`
	Item          *cloverRef       `json:"item"`
	Modifications *cloverModifiers `json:"modifications"`
	Discounts     *cloverDiscounts `json:"discounts"`
}

type cloverModifiers struct {
	Elements []cloverModifier `json:"elements"`
}

type cloverModifier struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

type cloverDiscounts struct {
	Elements []cloverDiscount `json:"elements"`
}

type cloverDiscount struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

type cloverRef struct {
	ID string `json:"id"`
}

func minorToMajor(v int64) float64 { return float64(v) / 100 }

// normalizeOrder converts a raw Clover order document into the bridge's
// internal representation. fallbackID fills in the order id when the
// document omits it (id-only webhook events).
func normalizeOrder(raw json.RawMessage, fallbackID string) (bridge.NormalizedOrder, error) {
	var co cloverOrder
	if err := json.Unmarshal(raw, &co); err != nil {
		return bridge.NormalizedOrder{}, fmt.Errorf("decode order: %w", err)
	}

	id := co.ID
	if id == "" {
		id = fallbackID
	}
	if id == "" {
		return bridge.NormalizedOrder{}, fmt.Errorf("order document has no id")
	}

	out := bridge.NormalizedOrder{
		ID:          id,
		CreatedTime: co.CreatedTime,
		Currency:    co.Currency,
		Total:       minorToMajor(co.Total),
		Raw:         append(json.RawMessage(nil), raw...),
	}
	if out.Currency == "" {
		out.Currency = "USD"
	}
	if out.CreatedTime == 0 {
		out.CreatedTime = time.Now().UnixMilli()
	}
	if co.TaxAmount != nil && !co.TaxRemoved {
		out.TaxAmount = minorToMajor(*co.TaxAmount)
	}
	if co.TipAmount != nil {
		out.TipAmount = minorToMajor(*co.TipAmount)
	}
	if co.Customer != nil {
		out.CustomerID = co.Customer.ID
	}
	if co.Tender != nil {
		out.TenderID = co.Tender.ID
	}

	if co.LineItems != nil {
		for _, li := range co.LineItems.Elements {
			item := bridge.OrderItem{
				ID:       li.ID,
				Name:     li.Name,
				Price:    minorToMajor(li.Price),
				Quantity: li.Quantity,
			}
			// Clover references the catalog item separately from the
			// order line; prefer the catalog id when present.
			if li.Item != nil && li.Item.ID != "" {
				item.ID = li.Item.ID
			}
			if item.Quantity == 0 {
				item.Quantity = 1
			}
			if li.Modifications != nil {
				for _, m := range li.Modifications.Elements {
					item.Modifiers = append(item.Modifiers, bridge.Modifier{
						ID:    m.ID,
						Name:  m.Name,
						Price: minorToMajor(m.Price),
					})
				}
			}
			if li.Discounts != nil {
				for _, d := range li.Discounts.Elements {
					item.Discounts = append(item.Discounts, bridge.Discount{
						ID:     d.ID,
						Name:   d.Name,
						Amount: minorToMajor(d.Amount),
					})
				}
			}
			out.Items = append(out.Items, item)
		}
	}

	if co.Discounts != nil {
		for _, d := range co.Discounts.Elements {
			out.Discounts = append(out.Discounts, bridge.Discount{
				ID:     d.ID,
				Name:   d.Name,
				Amount: minorToMajor(d.Amount),
			})
		}
	}

	return out, nil
}
