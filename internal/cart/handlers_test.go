package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/keranjang-dev/keranjang/internal/pricing"
)

func newTestHandler(t *testing.T) (*Handler, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	handler := &Handler{
		Svc:      newTestService(store, nil),
		Validate: validator.New(),
		Display:  pricing.PriceWithoutTax,
		Format:   MoneyFormat{Decimals: 2, DecimalPoint: ",", ThousandsSep: "."},
	}
	return handler, store
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", h.Mount)
	return r
}

func decodeData(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(body, &envelope))
	data, ok := envelope["data"].(map[string]any)
	require.True(t, ok, "expected data envelope, got %s", body)
	return data
}

func TestAddLinesCreatesCart(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	payload := `{
		"productId": "sku-1",
		"name": "Keyboard",
		"quantity": "2",
		"unitPrice": "50",
		"taxRules": [{"name": "VAT", "rate": "21"}]
	}`
	req := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	data := decodeData(t, rr.Body.Bytes())
	require.Equal(t, "session-1", data["instanceId"])
	require.Equal(t, "121", data["total"])
	require.Equal(t, "121,00", data["totalFormatted"])

	lines, ok := data["lines"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 1)
}

func TestAddLinesAcceptsBatch(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	payload := `[
		{"productId": "sku-1", "name": "Keyboard", "quantity": "1", "unitPrice": "100"},
		{"productId": "sku-2", "name": "Mouse", "quantity": "1", "unitPrice": "40"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	data := decodeData(t, rr.Body.Bytes())
	lines, ok := data["lines"].([]any)
	require.True(t, ok)
	require.Len(t, lines, 2)
}

func TestAddLinesRejectsMissingProduct(t *testing.T) {
	handler, store := newTestHandler(t)
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(`{"name": "Keyboard"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, store.snaps)
}

func TestGetMissingCartReturns404(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/v1/carts/nope/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	errBody, ok := envelope["error"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "NOT_FOUND", errBody["code"])
}

func TestUpdateLineToZeroRemovesIt(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	add := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(`[
		{"productId": "sku-1", "name": "Keyboard", "quantity": "1", "unitPrice": "100"},
		{"productId": "sku-2", "name": "Mouse", "quantity": "1", "unitPrice": "40"}
	]`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, add)
	require.Equal(t, http.StatusCreated, rr.Code)

	data := decodeData(t, rr.Body.Bytes())
	lines := data["lines"].([]any)
	rowID := lines[0].(map[string]any)["rowId"].(string)

	update := httptest.NewRequest(http.MethodPatch, "/v1/carts/session-1/lines/"+rowID, strings.NewReader(`{"quantity": "0"}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, update)

	require.Equal(t, http.StatusOK, rr.Code)
	data = decodeData(t, rr.Body.Bytes())
	require.Len(t, data["lines"].([]any), 1)
}

func TestAddDuplicateRuleReturnsConflict(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	add := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(`{"productId": "sku-1", "name": "Keyboard", "quantity": "1", "unitPrice": "100"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, add)
	require.Equal(t, http.StatusCreated, rr.Code)

	rule := `{"name": "sale", "discountType": "subtotal_percentage", "percentage": "10"}`
	first := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/rules", strings.NewReader(rule))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, first)
	require.Equal(t, http.StatusCreated, rr.Code)

	second := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/rules", strings.NewReader(rule))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, second)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestSetShippingUpdatesTotal(t *testing.T) {
	handler, _ := newTestHandler(t)
	router := newTestRouter(handler)

	add := httptest.NewRequest(http.MethodPost, "/v1/carts/session-1/lines", strings.NewReader(`{"productId": "sku-1", "name": "Keyboard", "quantity": "1", "unitPrice": "100"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, add)
	require.Equal(t, http.StatusCreated, rr.Code)

	ship := httptest.NewRequest(http.MethodPut, "/v1/carts/session-1/shipping", strings.NewReader(`{"amount": "15", "data": {"carrier": "jne"}}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, ship)

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeData(t, rr.Body.Bytes())
	require.Equal(t, "115", data["total"])
}
