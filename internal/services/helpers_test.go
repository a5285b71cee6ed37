package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"finitefield.org/storefront/internal/backend"
	"finitefield.org/storefront/internal/domain"
	"finitefield.org/storefront/internal/payments"
	"finitefield.org/storefront/internal/platform/kvstore"
	"finitefield.org/storefront/internal/repositories"
	"finitefield.org/storefront/internal/repositories/kv"
)

type stubCatalog struct {
	products map[string]domain.Product
	err      error
}

func (s *stubCatalog) LookupProduct(_ context.Context, productID string) (domain.Product, error) {
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("lookup %s: %w", productID, backend.ErrNotFound)
	}
	return product, nil
}

func newTestCatalog() *stubCatalog {
	return &stubCatalog{products: map[string]domain.Product{
		"tee": {ID: "tee", Name: "Classic Tee", UnitPrice: 100_000, Currency: "NGN", Stock: 5},
		"cap": {ID: "cap", Name: "Cap", UnitPrice: 50_000, Currency: "NGN", Stock: 1},
		"bag": {ID: "bag", Name: "Tote", UnitPrice: 70_000, Currency: "NGN", Stock: 0},
		"mug": {ID: "mug", Name: "Mug", UnitPrice: 1_500, Currency: "USD", Stock: 9},
	}}
}

type stubCartRepository struct {
	loadFunc   func(context.Context, string) ([]domain.CartLine, error)
	saveFunc   func(context.Context, string, []domain.CartLine) error
	deleteFunc func(context.Context, string) error
}

func (s *stubCartRepository) Load(ctx context.Context, scope string) ([]domain.CartLine, error) {
	if s.loadFunc != nil {
		return s.loadFunc(ctx, scope)
	}
	return nil, nil
}

func (s *stubCartRepository) Save(ctx context.Context, scope string, lines []domain.CartLine) error {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, scope, lines)
	}
	return nil
}

func (s *stubCartRepository) Delete(ctx context.Context, scope string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, scope)
	}
	return nil
}

type fakeGateway struct {
	mu         sync.Mutex
	openFunc   func(context.Context, payments.Request) (payments.Session, error)
	verifyFunc func(context.Context, string, payments.VerifyRequest) (payments.Verification, error)
	opened     []payments.Request
	verified   []payments.VerifyRequest
}

func (g *fakeGateway) Open(ctx context.Context, req payments.Request) (payments.Session, error) {
	g.mu.Lock()
	g.opened = append(g.opened, req)
	g.mu.Unlock()
	if g.openFunc != nil {
		return g.openFunc(ctx, req)
	}
	return payments.Session{Provider: "inline", PublicKey: "pk_test", Params: map[string]any{"amount": req.AmountMinorUnits}}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, provider string, req payments.VerifyRequest) (payments.Verification, error) {
	g.mu.Lock()
	g.verified = append(g.verified, req)
	g.mu.Unlock()
	if g.verifyFunc != nil {
		return g.verifyFunc(ctx, provider, req)
	}
	return payments.Verification{Verified: true, Data: map[string]any{"status": "success"}}, nil
}

func (g *fakeGateway) verifyCalls() []payments.VerifyRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]payments.VerifyRequest(nil), g.verified...)
}

type fakeOrders struct {
	mu         sync.Mutex
	createFunc func(context.Context, backend.OrderRequest) (domain.Order, error)
	requests   []backend.OrderRequest
}

func (o *fakeOrders) CreateOrder(ctx context.Context, req backend.OrderRequest) (domain.Order, error) {
	o.mu.Lock()
	o.requests = append(o.requests, req)
	n := len(o.requests)
	o.mu.Unlock()
	if o.createFunc != nil {
		return o.createFunc(ctx, req)
	}
	return domain.Order{ID: fmt.Sprintf("ord-%d", n), OrderNumber: fmt.Sprintf("SF-%04d", n), Status: "pending"}, nil
}

func (o *fakeOrders) calls() []backend.OrderRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]backend.OrderRequest(nil), o.requests...)
}

type recordingEscalator struct {
	mu          sync.Mutex
	escalations []Escalation
}

func (r *recordingEscalator) Escalate(_ context.Context, escalation Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalations = append(r.escalations, escalation)
	return nil
}

func (r *recordingEscalator) kinds() []EscalationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EscalationKind, 0, len(r.escalations))
	for _, e := range r.escalations {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func (r *recordingEscalator) find(kind EscalationKind) (Escalation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.escalations {
		if e.Kind == kind {
			return e, true
		}
	}
	return Escalation{}, false
}

// flakyAttempts fails saves of one status until failures runs out. A negative count fails
// forever. With landed set the write reaches the store before the error is returned.
type flakyAttempts struct {
	repositories.AttemptRepository
	mu       sync.Mutex
	status   payments.Status
	failures int
	landed   bool
	failed   int
}

func (f *flakyAttempts) Save(ctx context.Context, attempt payments.Attempt) error {
	f.mu.Lock()
	fail := attempt.Status == f.status && f.failures != 0
	if fail {
		f.failures--
		f.failed++
	}
	landed := f.landed
	f.mu.Unlock()
	if !fail {
		return f.AttemptRepository.Save(ctx, attempt)
	}
	if landed {
		if err := f.AttemptRepository.Save(ctx, attempt); err != nil {
			return err
		}
	}
	return unavailableError("attempt.save")
}

func (f *flakyAttempts) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = 0
}

func (f *flakyAttempts) failedSaves() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failed
}

func withFlakyAttempts(f *flakyAttempts) func(*PaymentServiceDeps) {
	return func(deps *PaymentServiceDeps) {
		f.AttemptRepository = deps.Attempts
		deps.Attempts = f
	}
}

type recordingMetrics struct {
	mu          sync.Mutex
	transitions []string
}

func (m *recordingMetrics) ObserveTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from+">"+to)
}

func (m *recordingMetrics) ObserveEscalation(string) {}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// workflow wires the services over an in-memory store the way the server does.
type workflow struct {
	store      *kvstore.MemoryStore
	cartRepo   *kv.CartRepository
	attempts   *kv.AttemptRepository
	locks      *SessionLocks
	clock      *testClock
	gateway    *fakeGateway
	orders     *fakeOrders
	escalator  *recordingEscalator
	metrics    *recordingMetrics
	carts      CartService
	checkout   CheckoutService
	payments   PaymentService
	reconciler *Reconciler
}

func newWorkflow(t *testing.T, opts ...func(*PaymentServiceDeps)) *workflow {
	t.Helper()
	w := &workflow{
		store:     kvstore.NewMemoryStore(0),
		locks:     NewSessionLocks(8),
		clock:     newTestClock(),
		gateway:   &fakeGateway{},
		orders:    &fakeOrders{},
		escalator: &recordingEscalator{},
		metrics:   &recordingMetrics{},
	}
	var err error
	if w.cartRepo, err = kv.NewCartRepository(w.store); err != nil {
		t.Fatalf("cart repo: %v", err)
	}
	if w.attempts, err = kv.NewAttemptRepository(w.store, w.clock.Now); err != nil {
		t.Fatalf("attempt repo: %v", err)
	}
	if w.carts, err = NewCartService(CartServiceDeps{
		Repository:  w.cartRepo,
		Catalog:     newTestCatalog(),
		Locks:       w.locks,
		IDGenerator: sequentialIDs("line"),
		Currency:    "NGN",
	}); err != nil {
		t.Fatalf("cart service: %v", err)
	}
	if w.checkout, err = NewCheckoutService(CheckoutServiceDeps{Carts: w.carts, Pricing: DefaultPricing()}); err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	deps := PaymentServiceDeps{
		Attempts:      w.attempts,
		Carts:         w.cartRepo,
		Checkout:      w.checkout,
		Gateway:       w.gateway,
		Orders:        w.orders,
		Escalator:     w.escalator,
		Metrics:       w.metrics,
		Locks:         w.locks,
		Clock:         w.clock.Now,
		IDGenerator:   sequentialIDs("att"),
		Channels:      []string{"card"},
		VerifyTimeout:  time.Second,
		OrderTimeout:   time.Second,
		OutcomeBackoff: time.Millisecond,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	if w.payments, err = NewPaymentService(deps); err != nil {
		t.Fatalf("payment service: %v", err)
	}
	if w.reconciler, err = NewReconciler(ReconcilerDeps{
		Attempts:      w.attempts,
		Carts:         w.cartRepo,
		Gateway:       w.gateway,
		Orders:        w.orders,
		Escalator:     w.escalator,
		Metrics:       w.metrics,
		Locks:         w.locks,
		Clock:         w.clock.Now,
		StaleAfter:    time.Minute,
		MaxAttempts:    2,
		VerifyTimeout:  time.Second,
		OrderTimeout:   time.Second,
		OutcomeBackoff: time.Millisecond,
	}); err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	return w
}

func validForm() CheckoutForm {
	return CheckoutForm{
		Contact: domain.ContactInfo{Email: "ada@example.com", FullName: "Ada Obi", Phone: "+2348012345678"},
		Shipping: domain.Address{
			Line1:   "12 Marina Road",
			City:    "Lagos",
			State:   "Lagos",
			Country: "ng",
		},
	}
}

func (w *workflow) fillCart(t *testing.T, scope string) {
	t.Helper()
	if _, _, err := w.carts.AddLine(context.Background(), scope, AddLineCommand{ProductID: "tee", Size: "m", Color: "Black", Quantity: 2}); err != nil {
		t.Fatalf("add line: %v", err)
	}
}

func (w *workflow) begin(t *testing.T, scope string) PaymentResult {
	t.Helper()
	w.fillCart(t, scope)
	result, err := w.payments.Begin(context.Background(), BeginPaymentCommand{Scope: scope, Form: validForm()})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	return result
}

func (w *workflow) succeed(t *testing.T, scope string, attempt payments.Attempt, reference string) PaymentResult {
	t.Helper()
	result, err := w.payments.HandleEvent(context.Background(), PaymentEventCommand{
		Scope:     scope,
		AttemptID: attempt.ID,
		Event:     payments.Event{Kind: payments.EventSuccess, Reference: reference, Status: "success", RawIDs: map[string]string{"transaction": "T1"}},
	})
	if err != nil {
		t.Fatalf("success event: %v", err)
	}
	return result
}

func (w *workflow) cartLines(t *testing.T, scope string) []domain.CartLine {
	t.Helper()
	lines, err := w.cartRepo.Load(context.Background(), scope)
	if err != nil {
		t.Fatalf("load cart: %v", err)
	}
	return lines
}

func unavailableError(op string) error {
	return repositories.NewError(op, repositories.ErrorUnavailable, fmt.Errorf("connection refused"))
}
