package kv

import (
	"time"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
)

type cartLineDocument struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	ImageRef  string `json:"imageRef,omitempty"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
	MaxStock  int    `json:"maxStock"`
}

func newCartLineDocuments(lines []domain.CartLine) []cartLineDocument {
	docs := make([]cartLineDocument, 0, len(lines))
	for _, line := range lines {
		docs = append(docs, cartLineDocument(line))
	}
	return docs
}

func cartLinesFromDocuments(docs []cartLineDocument) []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, domain.CartLine(doc))
	}
	return lines
}

type contactDocument struct {
	Email    string `json:"email,omitempty"`
	FullName string `json:"fullName,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

type addressDocument struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

type totalsDocument struct {
	Subtotal    int64  `json:"subtotal"`
	ShippingFee int64  `json:"shippingFee"`
	Tax         int64  `json:"tax"`
	GrandTotal  int64  `json:"grandTotal"`
	Currency    string `json:"currency"`
}

type checkoutDocument struct {
	Contact   contactDocument `json:"contact"`
	Shipping  addressDocument `json:"shipping"`
	Totals    totalsDocument  `json:"totals"`
	ItemCount int             `json:"itemCount"`
}

type attemptDocument struct {
	ID                string             `json:"id"`
	SessionScope      string             `json:"sessionScope"`
	UserID            string             `json:"userId,omitempty"`
	Provider          string             `json:"provider"`
	Reference         string             `json:"reference,omitempty"`
	ExpectedReference string             `json:"expectedReference,omitempty"`
	Status            string             `json:"status"`
	AmountMinorUnits  int64              `json:"amountMinorUnits"`
	Currency          string             `json:"currency"`
	Checkout          checkoutDocument   `json:"checkout"`
	Lines             []cartLineDocument `json:"lines"`
	ClientStatus      string             `json:"clientStatus,omitempty"`
	RawIDs            map[string]string  `json:"rawIds,omitempty"`
	LoadMeta          map[string]any     `json:"loadMeta,omitempty"`
	Verification      map[string]any     `json:"verification,omitempty"`
	OrderID           string             `json:"orderId,omitempty"`
	OrderNumber       string             `json:"orderNumber,omitempty"`
	FailureCode       string             `json:"failureCode,omitempty"`
	FailureMessage    string             `json:"failureMessage,omitempty"`
	Acknowledged      bool               `json:"acknowledged,omitempty"`
	ReconcileAttempts int                `json:"reconcileAttempts,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	VerifyStartedAt   time.Time          `json:"verifyStartedAt,omitempty"`
}

func newAttemptDocument(a payments.Attempt) attemptDocument {
	return attemptDocument{
		ID:                a.ID,
		SessionScope:      a.SessionScope,
		UserID:            a.UserID,
		Provider:          a.Provider,
		Reference:         a.Reference,
		ExpectedReference: a.ExpectedReference,
		Status:            string(a.Status),
		AmountMinorUnits:  a.AmountMinorUnits,
		Currency:          a.Currency,
		Checkout: checkoutDocument{
			Contact:   contactDocument(a.Checkout.Contact),
			Shipping:  addressDocument(a.Checkout.Shipping),
			Totals:    totalsDocument(a.Checkout.Totals),
			ItemCount: a.Checkout.ItemCount,
		},
		Lines:             newCartLineDocuments(a.Lines),
		ClientStatus:      a.ClientStatus,
		RawIDs:            a.RawIDs,
		LoadMeta:          a.LoadMeta,
		Verification:      a.Verification,
		OrderID:           a.OrderID,
		OrderNumber:       a.OrderNumber,
		FailureCode:       string(a.FailureCode),
		FailureMessage:    a.FailureMessage,
		Acknowledged:      a.Acknowledged,
		ReconcileAttempts: a.ReconcileAttempts,
		CreatedAt:         a.CreatedAt.UTC(),
		UpdatedAt:         a.UpdatedAt.UTC(),
		VerifyStartedAt:   a.VerifyStartedAt.UTC(),
	}
}

func (d attemptDocument) toDomain() payments.Attempt {
	return payments.Attempt{
		ID:                d.ID,
		SessionScope:      d.SessionScope,
		UserID:            d.UserID,
		Provider:          d.Provider,
		Reference:         d.Reference,
		ExpectedReference: d.ExpectedReference,
		Status:            payments.Status(d.Status),
		AmountMinorUnits:  d.AmountMinorUnits,
		Currency:          d.Currency,
		Checkout: domain.CheckoutSession{
			Contact:   domain.ContactInfo(d.Checkout.Contact),
			Shipping:  domain.Address(d.Checkout.Shipping),
			Totals:    domain.Totals(d.Checkout.Totals),
			ItemCount: d.Checkout.ItemCount,
		},
		Lines:             cartLinesFromDocuments(d.Lines),
		ClientStatus:      d.ClientStatus,
		RawIDs:            d.RawIDs,
		LoadMeta:          d.LoadMeta,
		Verification:      d.Verification,
		OrderID:           d.OrderID,
		OrderNumber:       d.OrderNumber,
		FailureCode:       payments.FailureCode(d.FailureCode),
		FailureMessage:    d.FailureMessage,
		Acknowledged:      d.Acknowledged,
		ReconcileAttempts: d.ReconcileAttempts,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
		VerifyStartedAt:   d.VerifyStartedAt,
	}
}

type reconcileDocument struct {
	Scope     string    `json:"scope"`
	AttemptID string    `json:"attemptId"`
	Status    string    `json:"status"`
	QueuedAt  time.Time `json:"queuedAt"`
}
