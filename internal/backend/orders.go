package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"finitefield.org/storefront/internal/domain"
)

// ErrMissingReference is returned when an order submission has no payment reference to use as
// idempotency key.
var ErrMissingReference = errors.New("backend: missing payment reference")

// OrderRequest is a verified payment plus the cart and shipping snapshot taken at checkout.
type OrderRequest struct {
	UserID          string
	Lines           []domain.CartLine
	ShippingAddress domain.Address
	Contact         domain.ContactInfo
	PaymentMethod   string
	Payment         domain.PaymentDetails
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

type addressPayload struct {
	FullName   string `json:"fullName,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
}

type paymentDetailsPayload struct {
	Reference           string            `json:"reference"`
	Status              string            `json:"status,omitempty"`
	RawIDs              map[string]string `json:"rawIds,omitempty"`
	VerificationPayload map[string]any    `json:"verificationPayload,omitempty"`
}

type orderPayload struct {
	UserID          string                `json:"userId,omitempty"`
	Items           []orderItemPayload    `json:"items"`
	ShippingAddress addressPayload        `json:"shippingAddress"`
	PaymentMethod   string                `json:"paymentMethod"`
	PaymentDetails  paymentDetailsPayload `json:"paymentDetails"`
}

type orderResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
	Items       []struct {
		ProductID string `json:"productId"`
		Name      string `json:"name"`
		Quantity  int    `json:"quantity"`
		Size      string `json:"size"`
		Color     string `json:"color"`
		UnitPrice int64  `json:"unitPrice"`
	} `json:"items"`
	Totals struct {
		Subtotal    int64  `json:"subtotal"`
		ShippingFee int64  `json:"shippingFee"`
		Tax         int64  `json:"tax"`
		GrandTotal  int64  `json:"grandTotal"`
		Currency    string `json:"currency"`
	} `json:"totals"`
	CreatedAt string `json:"createdAt"`
}

// CreateOrder submits the order with the payment reference as Idempotency-Key, so retries and
// reconciliation never create a second order for one payment.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (domain.Order, error) {
	reference := strings.TrimSpace(req.Payment.Reference)
	if reference == "" {
		return domain.Order{}, ErrMissingReference
	}

	payload := orderPayload{
		UserID: strings.TrimSpace(req.UserID),
		Items:  make([]orderItemPayload, 0, len(req.Lines)),
		ShippingAddress: addressPayload{
			FullName:   req.Contact.FullName,
			Email:      req.Contact.Email,
			Phone:      req.Contact.Phone,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		PaymentMethod: req.PaymentMethod,
		PaymentDetails: paymentDetailsPayload{
			Reference:           reference,
			Status:              req.Payment.Status,
			RawIDs:              req.Payment.RawIDs,
			VerificationPayload: req.Payment.VerificationPayload,
		},
	}
	for _, line := range req.Lines {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
		})
	}

	resp, err := c.do(ctx, call{
		operation:      "create_order",
		method:         http.MethodPost,
		path:           []string{"orders"},
		body:           payload,
		idempotencyKey: reference,
		retry:          true,
	})
	if err != nil {
		return domain.Order{}, err
	}
	if resp.status >= 400 {
		return domain.Order{}, rejection(resp)
	}

	var decoded orderResponse
	if err := json.Unmarshal(resp.body, &decoded); err != nil {
		return domain.Order{}, fmt.Errorf("backend: decode order: %w", err)
	}
	if strings.TrimSpace(decoded.ID) == "" {
		return domain.Order{}, errors.New("backend: order response missing id")
	}
	return decoded.toDomain(req), nil
}

func (o orderResponse) toDomain(req OrderRequest) domain.Order {
	order := domain.Order{
		ID:              strings.TrimSpace(o.ID),
		OrderNumber:     strings.TrimSpace(o.OrderNumber),
		Status:          strings.TrimSpace(o.Status),
		UserID:          req.UserID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Payment:         req.Payment,
		Totals: domain.Totals{
			Subtotal:    o.Totals.Subtotal,
			ShippingFee: o.Totals.ShippingFee,
			Tax:         o.Totals.Tax,
			GrandTotal:  o.Totals.GrandTotal,
			Currency:    o.Totals.Currency,
		},
	}
	if order.OrderNumber == "" {
		order.OrderNumber = order.ID
	}
	if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(o.CreatedAt)); err == nil {
		order.CreatedAt = ts
	}
	if len(o.Items) > 0 {
		for _, item := range o.Items {
			order.Items = append(order.Items, domain.OrderItem{
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Size:      item.Size,
				Color:     item.Color,
				UnitPrice: item.UnitPrice,
			})
		}
		return order
	}
	for _, line := range req.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: line.ProductID,
			Name:      line.Name,
			Quantity:  line.Quantity,
			Size:      line.Size,
			Color:     line.Color,
			UnitPrice: line.UnitPrice,
		})
	}
	return order
}
