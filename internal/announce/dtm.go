// Package announce persists a new sale and tells the payment service about it.
package announce

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/dtm-labs/client/dtmcli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/matheusmosca/marketplace-sales/internal/domain"
	"github.com/matheusmosca/marketplace-sales/internal/repository/postgres"
)

func init() {
	dtmcli.SetCurrentDBType("postgres")
}

// DTMConfig configures the two-phase message.
type DTMConfig struct {
	// Server is the dtm HTTP API, e.g. http://dtm:36789/api/dtmsvr.
	Server string
	// PaymentURL is the payment service base URL; the branch posts to /escrows/open.
	PaymentURL string
	// QueryPreparedURL is this service's back-check endpoint.
	QueryPreparedURL string
}

// DTMAnnouncer insere a venda e registra a mensagem sale.initiated na mesma transação local,
// usando a mensagem de duas fases do DTM. Se o processo cair entre o commit e o submit,
// o DTM consulta QueryPrepared e entrega a mensagem mesmo assim.
type DTMAnnouncer struct {
	db     *sql.DB
	cfg    DTMConfig
	logger *zap.Logger
}

// NewDTMAnnouncer cria o anunciador; db deve usar o driver lib/pq
func NewDTMAnnouncer(db *sql.DB, cfg DTMConfig, logger *zap.Logger) (*DTMAnnouncer, error) {
	if db == nil {
		return nil, errors.New("dtm announcer: db is required")
	}
	if cfg.Server == "" || cfg.PaymentURL == "" || cfg.QueryPreparedURL == "" {
		return nil, errors.New("dtm announcer: server, payment url and query-prepared url are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DTMAnnouncer{db: db, cfg: cfg, logger: logger}, nil
}

// CreateSale pre-allocates the sale id so the message payload can carry it, then inserts
// the row and submits the message atomically with the insert.
func (a *DTMAnnouncer) CreateSale(ctx context.Context, sale *domain.Sale) error {
	tracer := otel.Tracer("dtm-msg")
	ctx, span := tracer.Start(ctx, "dtm.msg.sale_initiated")
	defer span.End()

	var id int64
	if err := a.db.QueryRowContext(ctx, `SELECT nextval('sales_id_seq')`).Scan(&id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("allocate sale id: %w", err)
	}
	sale.ID = id

	args, err := postgres.InsertSaleArgs(&id, sale)
	if err != nil {
		return err
	}

	gid := "sale-" + uuid.NewString()
	span.SetAttributes(
		attribute.String("dtm.gid", gid),
		attribute.Int64("sale.id", id),
		attribute.String("component", "dtm-coordinator"),
	)

	msg := dtmcli.NewMsg(a.cfg.Server, gid).
		Add(a.cfg.PaymentURL+"/escrows/open", domain.NewSaleInitiated(sale))

	err = msg.DoAndSubmitDB(a.cfg.QueryPreparedURL, a.db, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, postgres.InsertSaleSQL, args...).Scan(&sale.ID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create sale %d with dtm message %s: %w", id, gid, err)
	}

	a.logger.Info("sale created and announced",
		zap.Int64("sale_id", sale.ID),
		zap.String("dtm_gid", gid),
	)
	return nil
}

// QueryPrepared answers dtm's back-check for messages whose submit was interrupted.
func (a *DTMAnnouncer) QueryPrepared(c *gin.Context) {
	bb, err := dtmcli.BarrierFromQuery(c.Request.URL.Query())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
		return
	}

	err = bb.QueryPrepared(a.db)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"dtm_result": dtmcli.ResultSuccess})
	case errors.Is(err, dtmcli.ErrFailure):
		c.JSON(http.StatusConflict, gin.H{"dtm_result": dtmcli.ResultFailure, "message": err.Error()})
	case errors.Is(err, dtmcli.ErrOngoing):
		c.JSON(http.StatusTooEarly, gin.H{"dtm_result": dtmcli.ResultOngoing, "message": err.Error()})
	default:
		a.logger.Error("dtm query prepared failed", zap.String("gid", bb.Gid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
