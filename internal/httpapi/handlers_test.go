package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/marketplace-sales/internal/auth"
	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/sales"
)

const testSecret = "test-secret"

type mockSalesService struct {
	mock.Mock
}

func (m *mockSalesService) InitiateSale(ctx context.Context, listingID, buyerID int64, testMode bool) (*domain.Sale, error) {
	args := m.Called(ctx, listingID, buyerID, testMode)
	sale, _ := args.Get(0).(*domain.Sale)
	return sale, args.Error(1)
}

func (m *mockSalesService) UpdateSaleStatus(ctx context.Context, saleID, actorID int64, target domain.SaleStatus, reason string) (*domain.Sale, error) {
	args := m.Called(ctx, saleID, actorID, target, reason)
	sale, _ := args.Get(0).(*domain.Sale)
	return sale, args.Error(1)
}

func (m *mockSalesService) GetSale(ctx context.Context, saleID, callerID int64) (*domain.Sale, error) {
	args := m.Called(ctx, saleID, callerID)
	sale, _ := args.Get(0).(*domain.Sale)
	return sale, args.Error(1)
}

func (m *mockSalesService) ListSales(ctx context.Context, callerID int64, query sales.ListQuery) (sales.Page, error) {
	args := m.Called(ctx, callerID, query)
	return args.Get(0).(sales.Page), args.Error(1)
}

// View and Views project without catalog lookups.
func (m *mockSalesService) View(_ context.Context, sale *domain.Sale) sales.SaleView {
	return sales.SaleView{
		ID:        sale.ID,
		ListingID: sale.ListingID,
		BuyerID:   sale.BuyerID,
		SellerID:  sale.SellerID,
		Price:     sale.Price,
		Currency:  sale.Currency,
		Status:    string(sale.Status),
		ExtraData: map[string]any{},
	}
}

func (m *mockSalesService) Views(ctx context.Context, items []*domain.Sale) []sales.SaleView {
	out := make([]sales.SaleView, 0, len(items))
	for _, sale := range items {
		out = append(out, m.View(ctx, sale))
	}
	return out
}

func testSale(status domain.SaleStatus) *domain.Sale {
	sale := domain.NewSale(domain.Listing{
		ID:       42,
		SellerID: 3,
		Price:    decimal.NewFromInt(100),
		Currency: "USD",
	}, 7, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	sale.ID = 1
	sale.Status = status
	return sale
}

func setupRouter(t *testing.T) (*gin.Engine, *mockSalesService, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	service := &mockSalesService{}
	router := NewRouter(RouterDeps{Sales: service, Verifier: verifier})
	return router, service, verifier
}

func bearer(t *testing.T, verifier *auth.Verifier, userID int64) string {
	t.Helper()
	token, err := verifier.Issue(userID, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router *gin.Engine, method, path, authorization, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	// Arrange
	router, _, _ := setupRouter(t)

	// Act
	w := do(router, http.MethodGet, "/health", "", "")

	// Assert
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestSalesRoutesRequireBearerToken(t *testing.T) {
	router, _, verifier := setupRouter(t)
	expired, err := verifier.Issue(7, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)
	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "7"}).
		SignedString([]byte("someone-else"))
	require.NoError(t, err)

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + otherKey},
		{"garbage", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Act
			w := do(router, http.MethodGet, "/sales/1", tt.authorization, "")

			// Assert
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "unauthenticated", resp.Error)
			assert.Equal(t, http.StatusUnauthorized, resp.Status)
		})
	}
}

func TestInitiateSale(t *testing.T) {
	// Arrange
	router, service, verifier := setupRouter(t)
	service.On("InitiateSale", mock.Anything, int64(42), int64(7), false).
		Return(testSale(domain.SaleStatusPending), nil).Once()

	// Act
	w := do(router, http.MethodPost, "/sales/42/initiate", bearer(t, verifier, 7), "")

	// Assert
	require.Equal(t, http.StatusCreated, w.Code)
	var view sales.SaleView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, int64(1), view.ID)
	assert.Equal(t, "PENDING", view.Status)
	service.AssertExpectations(t)
}

func TestInitiateSale_TestMode(t *testing.T) {
	// Arrange
	router, service, verifier := setupRouter(t)
	service.On("InitiateSale", mock.Anything, int64(42), int64(7), true).
		Return(testSale(domain.SaleStatusDeliveryPending), nil).Once()

	// Act
	w := do(router, http.MethodPost, "/sales/42/initiate?test_mode=true", bearer(t, verifier, 7), "")

	// Assert
	assert.Equal(t, http.StatusCreated, w.Code)
	service.AssertExpectations(t)
}

func TestInitiateSale_Errors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		serviceErr error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{"self purchase", "/sales/42/initiate", fmt.Errorf("%w: you cannot buy your own listing", domain.ErrValidation),
			http.StatusBadRequest, "validation_error", "you cannot buy your own listing"},
		{"catalog outage", "/sales/42/initiate", errors.New("dial tcp: connection refused"),
			http.StatusInternalServerError, "internal_error", "internal server error"},
		{"bad listing id", "/sales/abc/initiate", nil, http.StatusBadRequest, "validation_error", "must be a positive integer"},
		{"bad test_mode", "/sales/42/initiate?test_mode=maybe", nil, http.StatusBadRequest, "validation_error", "test_mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			router, service, verifier := setupRouter(t)
			if tt.serviceErr != nil {
				service.On("InitiateSale", mock.Anything, int64(42), int64(7), false).Return(nil, tt.serviceErr)
			}

			// Act
			w := do(router, http.MethodPost, tt.path, bearer(t, verifier, 7), "")

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Contains(t, resp.Message, tt.wantMsg)
			assert.NotContains(t, resp.Message, "connection refused")
		})
	}
}

func TestGetSale(t *testing.T) {
	tests := []struct {
		name       string
		sale       *domain.Sale
		err        error
		wantStatus int
	}{
		{"participant", testSale(domain.SaleStatusPending), nil, http.StatusOK},
		{"non participant looks missing", nil, domain.ErrAuthorization, http.StatusNotFound},
		{"missing", nil, domain.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			router, service, verifier := setupRouter(t)
			service.On("GetSale", mock.Anything, int64(1), int64(7)).Return(tt.sale, tt.err)

			// Act
			w := do(router, http.MethodGet, "/sales/1", bearer(t, verifier, 7), "")

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.err != nil {
				resp := decodeError(t, w)
				assert.Equal(t, "sale not found", resp.Message)
			}
		})
	}
}

func TestListSales(t *testing.T) {
	// Arrange
	router, service, verifier := setupRouter(t)
	query := sales.ListQuery{Role: "buyer", Status: "PENDING", Page: 2, PageSize: 5}
	service.On("ListSales", mock.Anything, int64(7), query).Return(sales.Page{
		Items:    []*domain.Sale{testSale(domain.SaleStatusPending)},
		Page:     2,
		PageSize: 5,
		Total:    6,
	}, nil).Once()

	// Act
	w := do(router, http.MethodGet, "/sales/?role=buyer&status=PENDING&page=2&page_size=5", bearer(t, verifier, 7), "")

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, 2, resp.Page)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(1), resp.Items[0].ID)
	service.AssertExpectations(t)
}

func TestListSales_InvalidPaging(t *testing.T) {
	// Arrange
	router, service, verifier := setupRouter(t)

	// Act
	w := do(router, http.MethodGet, "/sales/?page=first", bearer(t, verifier, 7), "")

	// Assert
	assert.Equal(t, http.StatusBadRequest, w.Code)
	service.AssertNotCalled(t, "ListSales", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateSaleStatus(t *testing.T) {
	// Arrange
	router, service, verifier := setupRouter(t)
	service.On("UpdateSaleStatus", mock.Anything, int64(1), int64(7), domain.SaleStatusCanceled, "changed my mind").
		Return(testSale(domain.SaleStatusCanceled), nil).Once()

	// Act
	w := do(router, http.MethodPut, "/sales/1/status", bearer(t, verifier, 7),
		`{"status":"canceled","reason":"changed my mind"}`)

	// Assert
	require.Equal(t, http.StatusOK, w.Code)
	var view sales.SaleView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "CANCELED", view.Status)
	service.AssertExpectations(t)
}

func TestUpdateSaleStatus_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"missing status", `{"reason":"x"}`, nil, http.StatusBadRequest, "validation_error"},
		{"unknown status", `{"status":"SHIPPED"}`, nil, http.StatusBadRequest, "validation_error"},
		{"not json", `status=CANCELED`, nil, http.StatusBadRequest, "validation_error"},
		{"illegal transition", `{"status":"COMPLETED"}`, domain.ErrStateTransition, http.StatusBadRequest, "invalid_transition"},
		{"outsider", `{"status":"COMPLETED"}`, domain.ErrAuthorization, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			router, service, verifier := setupRouter(t)
			if tt.serviceErr != nil {
				service.On("UpdateSaleStatus", mock.Anything, int64(1), int64(7), domain.SaleStatusCompleted, "").
					Return(nil, tt.serviceErr)
			}

			// Act
			w := do(router, http.MethodPut, "/sales/1/status", bearer(t, verifier, 7), tt.body)

			// Assert
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, w).Error)
			if tt.serviceErr == nil {
				service.AssertNotCalled(t, "UpdateSaleStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestQueryPreparedIsMountedWithoutAuth(t *testing.T) {
	// Arrange
	gin.SetMode(gin.TestMode)
	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	called := 0
	router := NewRouter(RouterDeps{
		Sales:    &mockSalesService{},
		Verifier: verifier,
		QueryPrepared: func(c *gin.Context) {
			called++
			c.JSON(http.StatusOK, gin.H{"dtm_result": "SUCCESS"})
		},
	})

	// Act
	get := do(router, http.MethodGet, "/dtm/query-prepared?gid=sale-1", "", "")
	post := do(router, http.MethodPost, "/dtm/query-prepared?gid=sale-1", "", "")

	// Assert
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Equal(t, http.StatusOK, post.Code)
	assert.Equal(t, 2, called)
}
