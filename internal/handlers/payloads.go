package handlers

import (
	"time"

	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/services"
)

type cartLinePayload struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	ImageRef  string `json:"imageRef,omitempty"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	Quantity  int    `json:"quantity"`
	MaxStock  int    `json:"maxStock"`
	Amount    int64  `json:"amount"`
}

type cartPayload struct {
	Lines        []cartLinePayload `json:"lines"`
	Total        int64             `json:"total"`
	TotalDisplay string            `json:"totalDisplay"`
	ItemCount    int               `json:"itemCount"`
	Currency     string            `json:"currency"`
}

func buildCartLinePayload(line domain.CartLine) cartLinePayload {
	return cartLinePayload{
		ID:        line.ID,
		ProductID: line.ProductID,
		Name:      line.Name,
		UnitPrice: line.UnitPrice,
		ImageRef:  line.ImageRef,
		Size:      line.Size,
		Color:     line.Color,
		Quantity:  line.Quantity,
		MaxStock:  line.MaxStock,
		Amount:    line.Amount(),
	}
}

func buildCartPayload(cart domain.Cart, currency string) cartPayload {
	lines := make([]cartLinePayload, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, buildCartLinePayload(line))
	}
	return cartPayload{
		Lines:        lines,
		Total:        cart.Total,
		TotalDisplay: domain.FormatAmount(cart.Total, currency),
		ItemCount:    cart.ItemCount,
		Currency:     currency,
	}
}

type contactPayload struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type checkoutFormRequest struct {
	Contact  contactPayload `json:"contact"`
	Shipping addressPayload `json:"shipping"`
}

func (f checkoutFormRequest) toForm() services.CheckoutForm {
	return services.CheckoutForm{
		Contact: domain.ContactInfo{
			Email:    f.Contact.Email,
			FullName: f.Contact.FullName,
			Phone:    f.Contact.Phone,
		},
		Shipping: domain.Address{
			Line1:      f.Shipping.Line1,
			Line2:      f.Shipping.Line2,
			City:       f.Shipping.City,
			State:      f.Shipping.State,
			PostalCode: f.Shipping.PostalCode,
			Country:    f.Shipping.Country,
		},
	}
}

type totalsPayload struct {
	Subtotal     int64  `json:"subtotal"`
	ShippingFee  int64  `json:"shippingFee"`
	Tax          int64  `json:"tax"`
	GrandTotal   int64  `json:"grandTotal"`
	Currency     string `json:"currency"`
	GrandDisplay string `json:"grandTotalDisplay"`
}

type checkoutSessionPayload struct {
	Contact   contactPayload `json:"contact"`
	Shipping  addressPayload `json:"shipping"`
	Totals    totalsPayload  `json:"totals"`
	ItemCount int            `json:"itemCount"`
}

func buildCheckoutSessionPayload(session domain.CheckoutSession) checkoutSessionPayload {
	return checkoutSessionPayload{
		Contact: contactPayload{
			Email:    session.Contact.Email,
			FullName: session.Contact.FullName,
			Phone:    session.Contact.Phone,
		},
		Shipping: addressPayload{
			Line1:      session.Shipping.Line1,
			Line2:      session.Shipping.Line2,
			City:       session.Shipping.City,
			State:      session.Shipping.State,
			PostalCode: session.Shipping.PostalCode,
			Country:    session.Shipping.Country,
		},
		Totals: totalsPayload{
			Subtotal:     session.Totals.Subtotal,
			ShippingFee:  session.Totals.ShippingFee,
			Tax:          session.Totals.Tax,
			GrandTotal:   session.Totals.GrandTotal,
			Currency:     session.Totals.Currency,
			GrandDisplay: domain.FormatAmount(session.Totals.GrandTotal, session.Totals.Currency),
		},
		ItemCount: session.ItemCount,
	}
}

type noticePayload struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type attemptPayload struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	Provider         string `json:"provider,omitempty"`
	Reference        string `json:"reference,omitempty"`
	AmountMinorUnits int64  `json:"amountMinorUnits"`
	Currency         string `json:"currency"`
	AmountDisplay    string `json:"amountDisplay"`
	OrderID          string `json:"orderId,omitempty"`
	OrderNumber      string `json:"orderNumber,omitempty"`
	FailureCode      string `json:"failureCode,omitempty"`
	FailureMessage   string `json:"failureMessage,omitempty"`
	Terminal         bool   `json:"terminal"`
	CreatedAt        string `json:"createdAt"`
	UpdatedAt        string `json:"updatedAt"`
}

type gatewayPayload struct {
	Provider     string         `json:"provider"`
	PublicKey    string         `json:"publicKey,omitempty"`
	Reference    string         `json:"reference,omitempty"`
	ClientSecret string         `json:"clientSecret,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

type orderPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status,omitempty"`
}

type paymentResponse struct {
	Attempt attemptPayload  `json:"attempt"`
	Notice  noticePayload   `json:"notice"`
	Gateway *gatewayPayload `json:"gateway,omitempty"`
	Order   *orderPayload   `json:"order,omitempty"`
}

func buildPaymentResponse(result services.PaymentResult) paymentResponse {
	attempt := result.Attempt
	resp := paymentResponse{
		Attempt: attemptPayload{
			ID:               attempt.ID,
			Status:           string(attempt.Status),
			Provider:         attempt.Provider,
			Reference:        attempt.Reference,
			AmountMinorUnits: attempt.AmountMinorUnits,
			Currency:         attempt.Currency,
			AmountDisplay:    domain.FormatAmount(attempt.AmountMinorUnits, attempt.Currency),
			OrderID:          attempt.OrderID,
			OrderNumber:      attempt.OrderNumber,
			FailureCode:      string(attempt.FailureCode),
			FailureMessage:   attempt.FailureMessage,
			Terminal:         attempt.Status.IsTerminal(),
			CreatedAt:        formatTime(attempt.CreatedAt),
			UpdatedAt:        formatTime(attempt.UpdatedAt),
		},
		Notice: noticePayload{
			Level:   string(result.Notice.Level),
			Code:    result.Notice.Code,
			Message: result.Notice.Message,
		},
	}
	if session := result.Session; session != nil {
		resp.Gateway = &gatewayPayload{
			Provider:     session.Provider,
			PublicKey:    session.PublicKey,
			Reference:    session.Reference,
			ClientSecret: session.ClientSecret,
			Params:       session.Params,
		}
	}
	if order := result.Order; order != nil {
		resp.Order = &orderPayload{ID: order.ID, OrderNumber: order.OrderNumber, Status: order.Status}
	}
	return resp
}

type paymentEventRequest struct {
	Type      string            `json:"type"`
	Reference string            `json:"reference"`
	Status    string            `json:"status"`
	RawIDs    map[string]string `json:"rawIds"`
	Message   string            `json:"message"`
	Meta      map[string]any    `json:"meta"`
}

func (r paymentEventRequest) toEvent() payments.Event {
	return payments.Event{
		Kind:      payments.EventKind(r.Type),
		Reference: r.Reference,
		Status:    r.Status,
		RawIDs:    r.RawIDs,
		Message:   r.Message,
		Meta:      r.Meta,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
