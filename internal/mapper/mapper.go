// Package mapper translates a normalized source order into the destination
// sale payload. Pure functions, no I/O.
package mapper

import (
	"fmt"
	"strings"
	"time"

	"posbridge/internal/bridge"
)

// Options carry the destination identifiers resolved from configuration.
type Options struct {
	ShopID     string
	EmployeeID string
	RegisterID string
}

// MapToSale builds the destination sale. Total over validated orders: it
// cannot fail for an order that passed bridge validation.
//
// Per line: unitPrice = item price + sum of modifier prices; modifiers are
// rendered into the line note since the destination has no structured
// modifier concept. Order-level discounts are appended to the first line's
// discount list rather than distributed pro-rata, matching the upstream
// convention. Exactly one synthetic payment equal to the order total is
// emitted; the destination is not told about split tenders.
func MapToSale(order bridge.NormalizedOrder, opts Options) bridge.SalePayload {
	lines := make([]bridge.SaleLine, 0, len(order.Items))
	for _, item := range order.Items {
		line := bridge.SaleLine{
			ItemID:    item.ID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		}

		if len(item.Modifiers) > 0 {
			notes := make([]string, 0, len(item.Modifiers))
			for _, mod := range item.Modifiers {
				line.UnitPrice += mod.Price
				notes = append(notes, fmt.Sprintf("%s (+$%.2f)", mod.Name, mod.Price))
			}
			line.Note = strings.Join(notes, ", ")
		}

		for _, d := range item.Discounts {
			line.Discounts = append(line.Discounts, bridge.LineDiscount{
				Description: discountDescription(d, "Line item discount"),
				Amount:      d.Amount,
			})
		}

		lines = append(lines, line)
	}

	// Order-level discounts land on the first line.
	if len(order.Discounts) > 0 && len(lines) > 0 {
		for _, d := range order.Discounts {
			lines[0].Discounts = append(lines[0].Discounts, bridge.LineDiscount{
				Description: discountDescription(d, "Order discount"),
				Amount:      d.Amount,
			})
		}
	}

	payment := bridge.SalePayment{Amount: order.Total}
	if order.TenderID != "" {
		payment.Reference = order.TenderID
	}

	payload := bridge.SalePayload{
		ShopID:          opts.ShopID,
		Lines:           lines,
		Payments:        []bridge.SalePayment{payment},
		Total:           order.Total,
		ReferenceNumber: order.ID,
		Note:            saleNote(order),
	}

	if opts.EmployeeID != "" {
		payload.EmployeeID = opts.EmployeeID
	}
	if opts.RegisterID != "" {
		payload.RegisterID = opts.RegisterID
	}
	if order.CustomerID != "" {
		payload.CustomerID = order.CustomerID
	}
	// Zero values are omitted rather than sent, so the destination never
	// reads an explicit zero as an override.
	if order.TaxAmount > 0 {
		payload.TaxAmount = order.TaxAmount
	}
	if order.TipAmount > 0 {
		payload.TipAmount = order.TipAmount
	}

	return payload
}

func discountDescription(d bridge.Discount, fallback string) string {
	if d.Name != "" {
		return d.Name
	}
	return fallback
}

func saleNote(order bridge.NormalizedOrder) string {
	notes := []string{"Generated from Clover Kiosk order"}
	if order.ID != "" {
		notes = append(notes, "Clover Order ID: "+order.ID)
	}
	if order.CreatedTime > 0 {
		notes = append(notes, "Created: "+time.UnixMilli(order.CreatedTime).UTC().Format(time.RFC3339))
	}
	return strings.Join(notes, " | ")
}
