package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/auth"
)

// RouterDeps bundles what the HTTP surface needs.
type RouterDeps struct {
	Sales       SalesService
	Verifier    *auth.Verifier
	Tracer      trace.Tracer
	Logger      *zap.Logger
	ServiceName string
	// QueryPrepared is mounted on /dtm/query-prepared when set.
	QueryPrepared gin.HandlerFunc
}

// NewRouter builds the gin engine with tracing, request logging and bearer auth on /sales.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("sales-service")
	}
	serviceName := deps.ServiceName
	if serviceName == "" {
		serviceName = "sales-service"
	}

	handler := NewSaleHandler(deps.Sales, tracer, logger)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(requestLogger(logger))

	r.GET("/health", handler.HealthCheck)
	if deps.QueryPrepared != nil {
		r.GET("/dtm/query-prepared", deps.QueryPrepared)
		r.POST("/dtm/query-prepared", deps.QueryPrepared)
	}

	salesGroup := r.Group("/sales")
	salesGroup.Use(deps.Verifier.Middleware(func(c *gin.Context, _ int, err error) {
		writeError(c, err)
	}))
	salesGroup.GET("/", handler.ListSales)
	// gin allows a single wildcard name per path segment
	salesGroup.GET("/:"+paramID, handler.GetSale)
	salesGroup.PUT("/:"+paramID+"/status", handler.UpdateSaleStatus)
	salesGroup.POST("/:"+paramID+"/initiate", handler.InitiateSale)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("trace_id", traceID(c)),
		)
	}
}
