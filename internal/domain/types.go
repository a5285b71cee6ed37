package domain

import "time"

// Product is the catalog view needed to build a cart line.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Currency  string
	ImageRef  string
	Stock     int
}

// ContactInfo identifies the shopper for receipts and delivery.
type ContactInfo struct {
	Email    string
	FullName string
	Phone    string
}

// Address is a shipping destination.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Totals summarises the amounts charged for a checkout. All values are minor currency units.
type Totals struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	GrandTotal  int64
	Currency    string
}

// CheckoutSession is the ephemeral checkout form plus the totals derived from the cart.
type CheckoutSession struct {
	Contact   ContactInfo
	Shipping  Address
	Totals    Totals
	ItemCount int
}

// PaymentDetails records how an order was paid.
type PaymentDetails struct {
	Reference           string
	Status              string
	RawIDs              map[string]string
	VerificationPayload map[string]any
}

// OrderItem is the immutable line snapshot stored on an order.
type OrderItem struct {
	ProductID string
	Name      string
	Quantity  int
	Size      string
	Color     string
	UnitPrice int64
}

// Order is created by the commerce backend exactly once per verified payment.
type Order struct {
	ID              string
	OrderNumber     string
	Status          string
	UserID          string
	Items           []OrderItem
	ShippingAddress Address
	PaymentMethod   string
	Payment         PaymentDetails
	Totals          Totals
	CreatedAt       time.Time
}
