package domain

import (
	"errors"
	"fmt"
	"testing"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("line-%d", n)
	}
}

func tee(stock int) Product {
	return Product{ID: "p-tee", Name: "Tee", UnitPrice: 100_000, Stock: stock}
}

func TestAddLineMergesSameVariant(t *testing.T) {
	var cart Cart
	ids := sequentialIDs()

	if _, err := cart.AddLine(AddCandidate{Product: tee(10), Size: "M", Color: "Black", Quantity: 2}, ids); err != nil {
		t.Fatalf("first add: %v", err)
	}
	line, err := cart.AddLine(AddCandidate{Product: tee(10), Size: " m ", Color: "black", Quantity: 3}, ids)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(cart.Lines) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(cart.Lines))
	}
	if line.ID != "line-1" || line.Quantity != 5 {
		t.Fatalf("unexpected merged line: %+v", line)
	}
	if cart.Total != 500_000 || cart.ItemCount != 5 {
		t.Fatalf("unexpected totals total=%d count=%d", cart.Total, cart.ItemCount)
	}
}

func TestAddLineKeepsDistinctVariants(t *testing.T) {
	var cart Cart
	ids := sequentialIDs()
	_, _ = cart.AddLine(AddCandidate{Product: tee(10), Size: "M", Quantity: 1}, ids)
	_, _ = cart.AddLine(AddCandidate{Product: tee(10), Size: "L", Quantity: 1}, ids)

	if len(cart.Lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(cart.Lines))
	}
	if cart.Lines[0].ID == cart.Lines[1].ID {
		t.Fatalf("expected distinct ids")
	}
}

func TestAddLineClampsToStock(t *testing.T) {
	var cart Cart
	ids := sequentialIDs()
	line, err := cart.AddLine(AddCandidate{Product: tee(3), Quantity: 7}, ids)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if line.Quantity != 3 {
		t.Fatalf("expected quantity clamped to 3, got %d", line.Quantity)
	}

	line, _ = cart.AddLine(AddCandidate{Product: tee(3), Quantity: 1}, ids)
	if line.Quantity != 3 {
		t.Fatalf("expected merged quantity clamped to 3, got %d", line.Quantity)
	}

	line, _ = cart.AddLine(AddCandidate{Product: tee(2)}, ids)
	if line.Quantity != 2 || line.MaxStock != 2 {
		t.Fatalf("expected refreshed stock to clamp quantity, got %+v", line)
	}
}

func TestAddLineDefaultsQuantity(t *testing.T) {
	var cart Cart
	line, err := cart.AddLine(AddCandidate{Product: tee(5)}, sequentialIDs())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if line.Quantity != 1 {
		t.Fatalf("expected quantity 1, got %d", line.Quantity)
	}
}

func TestAddLineRejectsOutOfStock(t *testing.T) {
	var cart Cart
	_, err := cart.AddLine(AddCandidate{Product: tee(0), Quantity: 1}, sequentialIDs())
	if !errors.Is(err, ErrOutOfStock) {
		t.Fatalf("expected ErrOutOfStock, got %v", err)
	}
	if !cart.IsEmpty() {
		t.Fatalf("expected cart unchanged")
	}
}

func TestUpdateQuantityClamps(t *testing.T) {
	var cart Cart
	line, _ := cart.AddLine(AddCandidate{Product: tee(4), Quantity: 2}, sequentialIDs())

	cases := []struct {
		in   int
		want int
	}{
		{in: 0, want: 1},
		{in: -3, want: 1},
		{in: 3, want: 3},
		{in: 99, want: 4},
	}
	for _, tc := range cases {
		got, err := cart.UpdateQuantity(line.ID, tc.in)
		if err != nil {
			t.Fatalf("update %d: %v", tc.in, err)
		}
		if got.Quantity != tc.want {
			t.Errorf("update %d: expected %d, got %d", tc.in, tc.want, got.Quantity)
		}
		if cart.ItemCount != tc.want || cart.Total != int64(tc.want)*100_000 {
			t.Errorf("update %d: totals not refreshed: %+v", tc.in, cart)
		}
	}

	if _, err := cart.UpdateQuantity("missing", 1); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound, got %v", err)
	}
}

func TestRemoveAndClear(t *testing.T) {
	var cart Cart
	ids := sequentialIDs()
	first, _ := cart.AddLine(AddCandidate{Product: tee(5), Size: "S"}, ids)
	_, _ = cart.AddLine(AddCandidate{Product: tee(5), Size: "L", Quantity: 2}, ids)

	if err := cart.RemoveLine(first.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(cart.Lines) != 1 || cart.ItemCount != 2 {
		t.Fatalf("unexpected cart after remove: %+v", cart)
	}
	if err := cart.RemoveLine(first.ID); !errors.Is(err, ErrLineNotFound) {
		t.Fatalf("expected ErrLineNotFound on second remove, got %v", err)
	}

	cart.Clear()
	if !cart.IsEmpty() || cart.Total != 0 || cart.ItemCount != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
}

func TestNewCartRepairsPersistedLines(t *testing.T) {
	cart := NewCart([]CartLine{
		{ID: "a", ProductID: "p1", UnitPrice: 1_000, Quantity: 9, MaxStock: 3},
		{ID: "b", ProductID: "p2", UnitPrice: 500, Quantity: 0, MaxStock: 2},
		{ID: "c", ProductID: "p3", UnitPrice: 500, Quantity: 1, MaxStock: 0},
		{ID: "d", ProductID: "p1", UnitPrice: 1_000, Quantity: 1, MaxStock: 3},
		{ID: "", ProductID: "p4", UnitPrice: 500, Quantity: 1, MaxStock: 2},
	})

	if len(cart.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %+v", cart.Lines)
	}
	if cart.Lines[0].Quantity != 3 || cart.Lines[1].Quantity != 1 {
		t.Fatalf("unexpected quantities: %+v", cart.Lines)
	}
	if cart.Total != 3_500 || cart.ItemCount != 4 {
		t.Fatalf("unexpected totals: total=%d count=%d", cart.Total, cart.ItemCount)
	}
}

func TestCartTotalsMatchLines(t *testing.T) {
	var cart Cart
	ids := sequentialIDs()
	products := []Product{
		{ID: "p1", UnitPrice: 1_250, Stock: 5},
		{ID: "p2", UnitPrice: 999, Stock: 2},
		{ID: "p3", UnitPrice: 10_000, Stock: 1},
	}
	for i := 0; i < 12; i++ {
		p := products[i%len(products)]
		if _, err := cart.AddLine(AddCandidate{Product: p, Quantity: i}, ids); err != nil {
			t.Fatalf("add: %v", err)
		}

		var total int64
		var count int
		for _, line := range cart.Lines {
			if line.Quantity < 1 || line.Quantity > line.MaxStock {
				t.Fatalf("quantity invariant broken: %+v", line)
			}
			total += line.Amount()
			count += line.Quantity
		}
		if total != cart.Total || count != cart.ItemCount {
			t.Fatalf("derived totals drifted: %+v", cart)
		}
	}
}
