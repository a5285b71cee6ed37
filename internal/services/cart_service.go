package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCatalogRequired    = errors.New("cart service: catalog is required")
)

const maxVariantLength = 64

// AddLineCommand requests a product variant. Quantity <= 0 counts as 1.
type AddLineCommand struct {
	ProductID string
	Size      string
	Color     string
	Quantity  int
}

// CartServiceDeps wires the repository and catalog dependencies for cart operations. When
// Currency is set, products priced in another currency are refused.
type CartServiceDeps struct {
	Repository  repositories.CartRepository
	Catalog     ProductCatalog
	Locks       *SessionLocks
	Logger      Logger
	IDGenerator func() string
	Currency    string
}

type cartService struct {
	repo     repositories.CartRepository
	catalog  ProductCatalog
	locks    *SessionLocks
	newID    func() string
	logger   Logger
	currency string
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	locks := deps.Locks
	if locks == nil {
		locks = NewSessionLocks(0)
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &cartService{
		repo:     deps.Repository,
		catalog:  deps.Catalog,
		locks:    locks,
		newID:    idGen,
		logger:   logger,
		currency: strings.ToUpper(strings.TrimSpace(deps.Currency)),
	}, nil
}

// Get rehydrates the cart of scope.
func (s *cartService) Get(ctx context.Context, scope string) (domain.Cart, error) {
	if strings.TrimSpace(scope) == "" {
		return domain.Cart{}, ErrCartInvalidInput
	}
	unlock := s.locks.Lock(scope)
	defer unlock()
	return s.rehydrate(ctx, scope)
}

// AddLine looks the product up and merges it into the cart.
func (s *cartService) AddLine(ctx context.Context, scope string, cmd AddLineCommand) (domain.Cart, domain.CartLine, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if strings.TrimSpace(scope) == "" || productID == "" ||
		len(cmd.Size) > maxVariantLength || len(cmd.Color) > maxVariantLength {
		return domain.Cart{}, domain.CartLine{}, ErrCartInvalidInput
	}

	product, err := s.catalog.LookupProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return domain.Cart{}, domain.CartLine{}, fmt.Errorf("%w: %s", ErrCartProductNotFound, productID)
		}
		return domain.Cart{}, domain.CartLine{}, fmt.Errorf("%w: catalog: %w", ErrCartUnavailable, err)
	}
	if currency := strings.TrimSpace(product.Currency); currency != "" && s.currency != "" && !strings.EqualFold(currency, s.currency) {
		s.logger(ctx, "cart.line.currency_mismatch", map[string]any{
			"productId": productID,
			"currency":  currency,
			"expected":  s.currency,
		})
		return domain.Cart{}, domain.CartLine{}, fmt.Errorf("%w: %s is priced in %s", ErrCartCurrencyMismatch, productID, strings.ToUpper(currency))
	}

	unlock := s.locks.Lock(scope)
	defer unlock()

	cart, err := s.rehydrate(ctx, scope)
	if err != nil {
		return domain.Cart{}, domain.CartLine{}, err
	}
	line, err := cart.AddLine(domain.AddCandidate{
		Product:  product,
		Size:     cmd.Size,
		Color:    cmd.Color,
		Quantity: cmd.Quantity,
	}, s.newID)
	if err != nil {
		if errors.Is(err, domain.ErrOutOfStock) {
			return domain.Cart{}, domain.CartLine{}, fmt.Errorf("%w: %s", ErrCartOutOfStock, productID)
		}
		return domain.Cart{}, domain.CartLine{}, err
	}
	if err := s.persist(ctx, scope, cart); err != nil {
		return domain.Cart{}, domain.CartLine{}, err
	}
	s.logger(ctx, "cart.line.added", map[string]any{
		"lineId":    line.ID,
		"productId": line.ProductID,
		"quantity":  line.Quantity,
	})
	return cart, line, nil
}

// UpdateQuantity clamps the quantity of lineID into [1, maxStock].
func (s *cartService) UpdateQuantity(ctx context.Context, scope, lineID string, quantity int) (domain.Cart, error) {
	return s.mutate(ctx, scope, func(cart *domain.Cart) error {
		_, err := cart.UpdateQuantity(strings.TrimSpace(lineID), quantity)
		return err
	})
}

// RemoveLine drops lineID from the cart.
func (s *cartService) RemoveLine(ctx context.Context, scope, lineID string) (domain.Cart, error) {
	return s.mutate(ctx, scope, func(cart *domain.Cart) error {
		return cart.RemoveLine(strings.TrimSpace(lineID))
	})
}

// Clear deletes the persisted snapshot.
func (s *cartService) Clear(ctx context.Context, scope string) error {
	if strings.TrimSpace(scope) == "" {
		return ErrCartInvalidInput
	}
	unlock := s.locks.Lock(scope)
	defer unlock()
	if err := s.repo.Delete(ctx, scope); err != nil {
		return fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	}
	s.logger(ctx, "cart.cleared", nil)
	return nil
}

func (s *cartService) mutate(ctx context.Context, scope string, fn func(*domain.Cart) error) (domain.Cart, error) {
	if strings.TrimSpace(scope) == "" {
		return domain.Cart{}, ErrCartInvalidInput
	}
	unlock := s.locks.Lock(scope)
	defer unlock()

	cart, err := s.rehydrate(ctx, scope)
	if err != nil {
		return domain.Cart{}, err
	}
	if err := fn(&cart); err != nil {
		if errors.Is(err, domain.ErrLineNotFound) {
			return domain.Cart{}, ErrCartLineNotFound
		}
		return domain.Cart{}, err
	}
	if err := s.persist(ctx, scope, cart); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// rehydrate loads the snapshot. A corrupt snapshot is removed and replaced by an empty cart.
func (s *cartService) rehydrate(ctx context.Context, scope string) (domain.Cart, error) {
	lines, err := s.repo.Load(ctx, scope)
	if err != nil {
		if !repositories.IsCorrupt(err) {
			return domain.Cart{}, fmt.Errorf("%w: %w", ErrCartUnavailable, err)
		}
		s.logger(ctx, "cart.snapshot.corrupt", map[string]any{"error": err.Error()})
		if delErr := s.repo.Delete(ctx, scope); delErr != nil {
			s.logger(ctx, "cart.snapshot.delete.failed", map[string]any{"error": delErr.Error()})
		}
		return domain.Cart{}, nil
	}
	return domain.NewCart(lines), nil
}

func (s *cartService) persist(ctx context.Context, scope string, cart domain.Cart) error {
	if cart.IsEmpty() {
		if err := s.repo.Delete(ctx, scope); err != nil {
			return fmt.Errorf("%w: %w", ErrCartUnavailable, err)
		}
		return nil
	}
	if err := s.repo.Save(ctx, scope, cart.Lines); err != nil {
		return fmt.Errorf("%w: %w", ErrCartUnavailable, err)
	}
	return nil
}
