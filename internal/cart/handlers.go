package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/keranjang-dev/keranjang/internal/common"
	"github.com/keranjang-dev/keranjang/internal/pricing"
)

// Handler wires the cart service to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate

	// Display controls how unit prices are rendered, independently of how
	// they were stored.
	Display pricing.PriceMode
	Format  MoneyFormat
}

// Mount registers cart routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/carts/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/lines", h.AddLines)
		r.Patch("/lines/{rowId}", h.UpdateLine)
		r.Delete("/lines/{rowId}", h.RemoveLine)
		r.Post("/rules", h.AddRule)
		r.Put("/shipping", h.SetShipping)
		r.Put("/invoice", h.SetInvoice)
	})
}

// Get returns the cart with all derived amounts.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	cart, err := h.Svc.Get(r.Context(), instanceID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

// AddLines adds one or more lines to the cart, creating it when absent. The
// payload is either a single line object or a list of them.
func (h *Handler) AddLines(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	inputs, err := decodeLines(r)
	if err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, "invalid payload", http.StatusBadRequest, err))
		return
	}
	for _, in := range inputs {
		if err := h.Validate.Struct(in); err != nil {
			h.writeError(w, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadRequest, err))
			return
		}
	}
	cart, err := h.Svc.Add(r.Context(), instanceID, inputs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusCreated, cart)
}

// UpdateLine replaces a line's quantity. Zero or negative removes the line.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	rowID := chi.URLParam(r, "rowId")
	var payload struct {
		Quantity decimal.Decimal `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, "invalid payload", http.StatusBadRequest, err))
		return
	}
	cart, err := h.Svc.SetQuantity(r.Context(), instanceID, rowID, payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

// RemoveLine deletes a line from the cart.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	rowID := chi.URLParam(r, "rowId")
	cart, err := h.Svc.Remove(r.Context(), instanceID, rowID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

// AddRule registers a cart-level price rule.
func (h *Handler) AddRule(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload RuleInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, "invalid payload", http.StatusBadRequest, err))
		return
	}
	if err := h.Validate.Struct(payload); err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, err.Error(), http.StatusBadRequest, err))
		return
	}
	cart, err := h.Svc.AddPriceRule(r.Context(), instanceID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusCreated, cart)
}

// SetShipping stores the shipping amount and metadata on the cart.
func (h *Handler) SetShipping(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload struct {
		Amount decimal.Decimal   `json:"amount"`
		Data   map[string]string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, "invalid payload", http.StatusBadRequest, err))
		return
	}
	cart, err := h.Svc.SetShipping(r.Context(), instanceID, payload.Amount, payload.Data)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

// SetInvoice stores invoice metadata on the cart.
func (h *Handler) SetInvoice(w http.ResponseWriter, r *http.Request) {
	instanceID := strings.TrimSpace(chi.URLParam(r, "id"))
	var payload map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, common.NewAppError(common.CodeValidation, "invalid payload", http.StatusBadRequest, err))
		return
	}
	cart, err := h.Svc.SetInvoice(r.Context(), instanceID, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

// decodeLines accepts a single line object or a JSON array of them.
func decodeLines(r *http.Request) ([]LineInput, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []LineInput
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var single LineInput
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []LineInput{single}, nil
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, cart *pricing.Cart) {
	common.JSON(w, status, map[string]any{"data": renderCart(cart, h.Display, h.Format)})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if err == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "unknown error", nil)
		return
	}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusBadRequest
		}
		code := appErr.Code
		if code == "" {
			code = common.CodeValidation
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, pricing.ErrInvalidInput):
		common.JSONError(w, http.StatusBadRequest, common.CodeValidation, err.Error(), nil)
	case errors.Is(err, pricing.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, err.Error(), nil)
	case errors.Is(err, pricing.ErrRuleConflict):
		common.JSONError(w, http.StatusConflict, common.CodeConflict, err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, err.Error(), nil)
	}
}
