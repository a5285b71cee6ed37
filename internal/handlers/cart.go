package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/services"
)

// CartHandlers exposes the session cart.
type CartHandlers struct {
	carts    services.CartService
	currency string
}

// NewCartHandlers constructs cart handlers. currency labels totals in responses.
func NewCartHandlers(carts services.CartService, currency string) *CartHandlers {
	return &CartHandlers{carts: carts, currency: strings.ToUpper(strings.TrimSpace(currency))}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/lines", h.addLine)
	r.Patch("/lines/{lineID}", h.updateLine)
	r.Delete("/lines/{lineID}", h.removeLine)
}

type cartResponse struct {
	Cart cartPayload      `json:"cart"`
	Line *cartLinePayload `json:"line,omitempty"`
}

type addLineRequest struct {
	ProductID string `json:"productId"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Quantity  int    `json:"quantity"`
}

type updateLineRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	cart, err := h.carts.Get(ctx, scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart, h.currency)})
}

func (h *CartHandlers) addLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	var req addLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cart, line, err := h.carts.AddLine(ctx, scope, services.AddLineCommand{
		ProductID: req.ProductID,
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	linePayload := buildCartLinePayload(line)
	writeJSONResponse(w, http.StatusCreated, cartResponse{Cart: buildCartPayload(cart, h.currency), Line: &linePayload})
}

func (h *CartHandlers) updateLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	var req updateLineRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}
	cart, err := h.carts.UpdateQuantity(ctx, scope, chi.URLParam(r, "lineID"), *req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart, h.currency)})
}

func (h *CartHandlers) removeLine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	cart, err := h.carts.RemoveLine(ctx, scope, chi.URLParam(r, "lineID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart, h.currency)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	scope, ok := sessionScope(ctx, w)
	if !ok {
		return
	}
	if err := h.carts.Clear(ctx, scope); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
