package bridge

import "encoding/json"

// NormalizedOrder is the source order translated into the bridge's internal
// representation. All monetary fields are in major currency units; the
// minor-unit conversion happens once, at the normalization boundary in the
// source client, and nowhere downstream.
type NormalizedOrder struct {
	ID          string          `json:"id"`
	CreatedTime int64           `json:"createdTime"`
	Currency    string          `json:"currency"`
	Total       float64         `json:"total"`
	TaxAmount   float64         `json:"taxAmount,omitempty"`
	TipAmount   float64         `json:"tipAmount,omitempty"`
	Items       []OrderItem     `json:"items"`
	Discounts   []Discount      `json:"discounts,omitempty"`
	CustomerID  string          `json:"customerId,omitempty"`
	TenderID    string          `json:"tenderId,omitempty"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// OrderItem is a single order line. Price is the unit price excluding
// modifier prices; modifiers are folded in during mapping.
type OrderItem struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Price     float64    `json:"price"`
	Quantity  int        `json:"quantity"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
	Discounts []Discount `json:"discounts,omitempty"`
}

// Modifier is a flat monetary add-on to an item.
type Modifier struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Discount is a flat monetary reduction. Percentage discounts arrive from
// the source pre-computed as an amount.
type Discount struct {
	ID     string  `json:"id,omitempty"`
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// Validate rejects orders that cannot be forwarded. These are terminal
// business failures: retrying cannot fix a structurally invalid order.
func (o NormalizedOrder) Validate() error {
	if len(o.Items) == 0 {
		return validationError("order has no items to process")
	}
	if o.Total <= 0 {
		return validationError("order total must be greater than zero")
	}
	return nil
}

// SalePayload is the destination-system representation of a completed
// transaction. ReferenceNumber always equals the source order id so the
// destination can reconcile duplicate submissions.
type SalePayload struct {
	ShopID          string        `json:"shopID"`
	EmployeeID      string        `json:"employeeID,omitempty"`
	CustomerID      string        `json:"customerID,omitempty"`
	RegisterID      string        `json:"registerID,omitempty"`
	Lines           []SaleLine    `json:"lines"`
	Payments        []SalePayment `json:"payments"`
	TaxAmount       float64       `json:"taxAmount,omitempty"`
	TipAmount       float64       `json:"tipAmount,omitempty"`
	Total           float64       `json:"total,omitempty"`
	ReferenceNumber string        `json:"referenceNumber,omitempty"`
	Note            string        `json:"note,omitempty"`
}

// SaleLine is one destination sale line. UnitPrice includes modifier prices.
type SaleLine struct {
	ItemID    string         `json:"itemID"`
	Quantity  int            `json:"quantity"`
	UnitPrice float64        `json:"unitPrice"`
	Note      string         `json:"note,omitempty"`
	Discounts []LineDiscount `json:"discounts,omitempty"`
}

// LineDiscount is a flat discount attached to a sale line.
type LineDiscount struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// SalePayment is a payment entry on the sale. The bridge always emits
// exactly one synthetic payment equal to the order total.
type SalePayment struct {
	Amount    float64 `json:"amount"`
	Reference string  `json:"reference,omitempty"`
}
