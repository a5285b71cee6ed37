package domain

import (
	"errors"
	"strings"
)

var (
	// ErrLineNotFound is returned when a line id is not in the cart.
	ErrLineNotFound = errors.New("cart: line not found")
	// ErrOutOfStock is returned when a product has no stock, so no quantity satisfies 1..maxStock.
	ErrOutOfStock = errors.New("cart: product out of stock")
)

// MergeKey collapses repeated additions of the same product variant into one line.
type MergeKey struct {
	ProductID string
	Size      string
	Color     string
}

// CartLine is one product variant in the cart. Quantity is kept within [1, MaxStock].
type CartLine struct {
	ID        string
	ProductID string
	Name      string
	UnitPrice int64
	ImageRef  string
	Size      string
	Color     string
	Quantity  int
	MaxStock  int
}

// Key returns the line's merge key. Size and color compare case-insensitively.
func (l CartLine) Key() MergeKey {
	return MergeKey{
		ProductID: strings.TrimSpace(l.ProductID),
		Size:      strings.ToUpper(strings.TrimSpace(l.Size)),
		Color:     strings.ToLower(strings.TrimSpace(l.Color)),
	}
}

// Amount returns unitPrice x quantity.
func (l CartLine) Amount() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

// AddCandidate describes a requested addition after the catalog lookup.
type AddCandidate struct {
	Product  Product
	Size     string
	Color    string
	Quantity int
}

// Cart holds lines in insertion order. Total and ItemCount are derived and refreshed by every
// mutation.
type Cart struct {
	Lines     []CartLine
	Total     int64
	ItemCount int
}

// NewCart builds a cart from persisted lines. Lines that violate the quantity invariant are
// clamped, lines without stock are dropped, and duplicate merge keys are folded.
func NewCart(lines []CartLine) Cart {
	var c Cart
	for _, line := range lines {
		if line.ID == "" || line.MaxStock < 1 {
			continue
		}
		line.Quantity = clamp(line.Quantity, line.MaxStock)
		if idx := c.indexOfKey(line.Key()); idx >= 0 {
			existing := &c.Lines[idx]
			existing.Quantity = clamp(existing.Quantity+line.Quantity, existing.MaxStock)
			continue
		}
		c.Lines = append(c.Lines, line)
	}
	c.recompute()
	return c
}

// Line returns the line with id.
func (c Cart) Line(id string) (CartLine, bool) {
	if idx := c.indexOfID(id); idx >= 0 {
		return c.Lines[idx], true
	}
	return CartLine{}, false
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// AddLine merges the candidate into an existing line with the same merge key or appends a new
// line. Quantities are clamped to the available stock; a missing quantity counts as 1. newID
// is only called when a line is appended. It returns the affected line.
func (c *Cart) AddLine(candidate AddCandidate, newID func() string) (CartLine, error) {
	stock := candidate.Product.Stock
	if stock < 1 {
		return CartLine{}, ErrOutOfStock
	}
	requested := candidate.Quantity
	if requested < 1 {
		requested = 1
	}

	line := CartLine{
		ProductID: candidate.Product.ID,
		Name:      candidate.Product.Name,
		UnitPrice: candidate.Product.UnitPrice,
		ImageRef:  candidate.Product.ImageRef,
		Size:      strings.TrimSpace(candidate.Size),
		Color:     strings.TrimSpace(candidate.Color),
		MaxStock:  stock,
	}

	if idx := c.indexOfKey(line.Key()); idx >= 0 {
		existing := &c.Lines[idx]
		existing.Name = line.Name
		existing.UnitPrice = line.UnitPrice
		existing.ImageRef = line.ImageRef
		existing.MaxStock = stock
		existing.Quantity = clamp(existing.Quantity+requested, stock)
		c.recompute()
		return *existing, nil
	}

	line.ID = newID()
	line.Quantity = clamp(requested, stock)
	c.Lines = append(c.Lines, line)
	c.recompute()
	return line, nil
}

// RemoveLine drops the line with id.
func (c *Cart) RemoveLine(id string) error {
	idx := c.indexOfID(id)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.Lines = append(c.Lines[:idx], c.Lines[idx+1:]...)
	c.recompute()
	return nil
}

// UpdateQuantity sets the line quantity clamped to [1, maxStock].
func (c *Cart) UpdateQuantity(id string, quantity int) (CartLine, error) {
	idx := c.indexOfID(id)
	if idx < 0 {
		return CartLine{}, ErrLineNotFound
	}
	line := &c.Lines[idx]
	line.Quantity = clamp(quantity, line.MaxStock)
	c.recompute()
	return *line, nil
}

// Clear empties the cart and zeroes the totals.
func (c *Cart) Clear() {
	c.Lines = nil
	c.recompute()
}

func (c *Cart) recompute() {
	c.Total = 0
	c.ItemCount = 0
	for _, line := range c.Lines {
		c.Total += line.Amount()
		c.ItemCount += line.Quantity
	}
}

func (c Cart) indexOfID(id string) int {
	for i, line := range c.Lines {
		if line.ID == id {
			return i
		}
	}
	return -1
}

func (c Cart) indexOfKey(key MergeKey) int {
	for i, line := range c.Lines {
		if line.Key() == key {
			return i
		}
	}
	return -1
}

func clamp(quantity, maxStock int) int {
	if quantity > maxStock {
		quantity = maxStock
	}
	if quantity < 1 {
		quantity = 1
	}
	return quantity
}
