package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/auth"
	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/sales"
)

// SalesService define a interface do serviço de vendas usada pelos handlers
type SalesService interface {
	InitiateSale(ctx context.Context, listingID, buyerID int64, testMode bool) (*domain.Sale, error)
	UpdateSaleStatus(ctx context.Context, saleID, actorID int64, target domain.SaleStatus, reason string) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID, callerID int64) (*domain.Sale, error)
	ListSales(ctx context.Context, callerID int64, query sales.ListQuery) (sales.Page, error)
	View(ctx context.Context, sale *domain.Sale) sales.SaleView
	Views(ctx context.Context, items []*domain.Sale) []sales.SaleView
}

// UpdateStatusRequest representa a requisição de mudança de status
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// ListResponse é a página devolvida por GET /sales/
type ListResponse struct {
	Items    []sales.SaleView `json:"items"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Total    int              `json:"total"`
}

// SaleHandler contém os handlers HTTP de vendas
type SaleHandler struct {
	service SalesService
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewSaleHandler cria uma nova instância de SaleHandler
func NewSaleHandler(service SalesService, tracer trace.Tracer, logger *zap.Logger) *SaleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SaleHandler{service: service, tracer: tracer, logger: logger}
}

// InitiateSale cria uma venda para o listing em nome do usuário autenticado
func (h *SaleHandler) InitiateSale(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "initiate_sale")
	defer span.End()

	listingID, ok := pathID(c, "listing_id")
	if !ok {
		return
	}
	testMode, err := optionalBool(c.Query("test_mode"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: test_mode must be a boolean", domain.ErrValidation))
		return
	}
	buyerID, _ := auth.UserID(c)

	span.SetAttributes(
		attribute.Int64("listing_id", listingID),
		attribute.Int64("buyer_id", buyerID),
		attribute.Bool("test_mode", testMode),
	)

	sale, err := h.service.InitiateSale(ctx, listingID, buyerID, testMode)
	if err != nil {
		span.RecordError(err)
		h.logFailure("initiate sale failed", err, zap.Int64("listing_id", listingID))
		writeError(c, err)
		return
	}
	span.SetAttributes(attribute.Int64("sale_id", sale.ID))

	c.JSON(http.StatusCreated, h.service.View(ctx, sale))
}

// GetSale devolve a venda para comprador ou vendedor
func (h *SaleHandler) GetSale(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "get_sale")
	defer span.End()

	saleID, ok := pathID(c, "sale_id")
	if !ok {
		return
	}
	callerID, _ := auth.UserID(c)
	span.SetAttributes(attribute.Int64("sale_id", saleID))

	sale, err := h.service.GetSale(ctx, saleID, callerID)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.View(ctx, sale))
}

// ListSales lista as vendas do usuário autenticado
func (h *SaleHandler) ListSales(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "list_sales")
	defer span.End()

	page, err := optionalInt(c.Query("page"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: page must be an integer", domain.ErrValidation))
		return
	}
	pageSize, err := optionalInt(c.Query("page_size"))
	if err != nil {
		writeError(c, fmt.Errorf("%w: page_size must be an integer", domain.ErrValidation))
		return
	}
	callerID, _ := auth.UserID(c)

	result, err := h.service.ListSales(ctx, callerID, sales.ListQuery{
		Role:     c.Query("role"),
		Status:   c.Query("status"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{
		Items:    h.service.Views(ctx, result.Items),
		Page:     result.Page,
		PageSize: result.PageSize,
		Total:    result.Total,
	})
}

// UpdateSaleStatus aplica uma transição pedida por um participante
func (h *SaleHandler) UpdateSaleStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "update_sale_status")
	defer span.End()

	saleID, ok := pathID(c, "sale_id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		writeError(c, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	target, err := domain.ParseSaleStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	actorID, _ := auth.UserID(c)

	span.SetAttributes(
		attribute.Int64("sale_id", saleID),
		attribute.Int64("actor_id", actorID),
		attribute.String("status", string(target)),
	)

	sale, err := h.service.UpdateSaleStatus(ctx, saleID, actorID, target, req.Reason)
	if err != nil {
		span.RecordError(err)
		h.logFailure("update sale status failed", err, zap.Int64("sale_id", saleID))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.service.View(ctx, sale))
}

// HealthCheck retorna o status de saúde do serviço
func (h *SaleHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *SaleHandler) logFailure(msg string, err error, fields ...zap.Field) {
	if status, _, _ := classify(err); status < http.StatusInternalServerError {
		return
	}
	h.logger.Error(msg, append(fields, zap.Error(err))...)
}

// paramID is the path wildcard; it carries a sale id or, on initiate, a listing id.
const paramID = "id"

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(paramID), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name))
		return 0, false
	}
	return id, true
}

func optionalInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func optionalBool(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
}
