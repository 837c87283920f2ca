// Package server exposes the HTTP API: invoice lifecycle, document uploads,
// LHDN submission and bulk import sessions.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/smallbiznis/einvois/internal/audit/domain"
	bulkdomain "github.com/smallbiznis/einvois/internal/bulkimport/domain"
	businessdomain "github.com/smallbiznis/einvois/internal/business/domain"
	"github.com/smallbiznis/einvois/internal/config"
	documentdomain "github.com/smallbiznis/einvois/internal/document/domain"
	invoicedomain "github.com/smallbiznis/einvois/internal/invoice/domain"
	lhdndomain "github.com/smallbiznis/einvois/internal/lhdn/domain"
	"github.com/smallbiznis/einvois/internal/observability/metrics"
	"github.com/smallbiznis/einvois/internal/pdfgen"
)

var Module = fx.Module("http.server",
	fx.Provide(NewRedisClient),
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, m *metrics.Metrics) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(m.Middleware())
	r.Use(ErrorHandlingMiddleware())
	return r
}

// NewRedisClient is the shared redis connection, used by the health probe.
// The queue holds its own connection through asynq.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return client.Close()
		},
	})
	return client
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	db       *gorm.DB
	redis    *redis.Client
	genID    *snowflake.Node
	validate *validator.Validate
	metrics  *metrics.Metrics

	businessSvc businessdomain.Service
	invoiceSvc  invoicedomain.Service
	documentSvc documentdomain.Service
	lhdnSvc     lhdndomain.Service
	bulkSvc     bulkdomain.Service
	auditSvc    auditdomain.Service
	pdfSvc      pdfgen.Service
}

type ServerParams struct {
	fx.In

	Gin     *gin.Engine
	Cfg     config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	GenID   *snowflake.Node
	Metrics *metrics.Metrics

	BusinessSvc businessdomain.Service
	InvoiceSvc  invoicedomain.Service
	DocumentSvc documentdomain.Service
	LhdnSvc     lhdndomain.Service
	BulkSvc     bulkdomain.Service
	AuditSvc    auditdomain.Service
	PdfSvc      pdfgen.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("http.server"),
		db:          p.DB,
		redis:       p.Redis,
		genID:       p.GenID,
		validate:    validator.New(),
		metrics:     p.Metrics,
		businessSvc: p.BusinessSvc,
		invoiceSvc:  p.InvoiceSvc,
		documentSvc: p.DocumentSvc,
		lhdnSvc:     p.LhdnSvc,
		bulkSvc:     p.BulkSvc,
		auditSvc:    p.AuditSvc,
		pdfSvc:      p.PdfSvc,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.GET("/metrics", s.metrics.Handler())

	api := s.engine.Group("/api/v1")

	api.POST("/businesses", s.CreateBusiness)

	scoped := api.Group("", s.RequireBusiness())
	{
		scoped.GET("/businesses/me", s.GetBusiness)
		scoped.PATCH("/businesses/me", s.UpdateBusiness)
		scoped.PUT("/businesses/me/lhdn-credentials", s.SetLHDNCredentials)

		scoped.POST("/invoices", s.CreateInvoice)
		scoped.GET("/invoices", s.ListInvoices)
		scoped.GET("/invoices/:id", s.GetInvoiceByID)
		scoped.PATCH("/invoices/:id", s.UpdateInvoice)
		scoped.DELETE("/invoices/:id", s.DeleteInvoice)
		scoped.POST("/invoices/:id/finalize", s.FinalizeInvoice)
		scoped.POST("/invoices/:id/submit", s.SubmitInvoice)
		scoped.GET("/invoices/:id/lhdn-status", s.PollInvoiceStatus)
		scoped.POST("/invoices/:id/cancel", s.CancelInvoice)
		scoped.POST("/invoices/:id/pdf", s.RenderInvoicePDF)

		scoped.POST("/documents/upload", s.RequestUpload)
		scoped.POST("/documents/confirm", s.ConfirmUpload)
		scoped.GET("/documents/:id", s.GetDocumentByID)

		scoped.POST("/bulk-imports/csv", s.UploadBulkCSV)
		scoped.POST("/bulk-imports/sessions", s.CreateBulkSession)
		scoped.GET("/bulk-imports", s.ListBulkImports)
		scoped.GET("/bulk-imports/:id", s.GetBulkImport)
		scoped.GET("/bulk-imports/:id/invoices", s.GetBulkImportInvoices)
		scoped.POST("/bulk-imports/:id/submit", s.SubmitBulkReady)

		scoped.GET("/audit-logs", s.ListAuditLogs)
	}
}

func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "redis": "ok"}

	if sqlDB, err := s.db.DB(); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	if err := s.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"status": httpStatusText(status), "checks": checks})
}

func httpStatusText(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}

// bindJSON decodes and validates a request body, translating failures into
// the shared validation payload.
func (s *Server) bindJSON(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil {
		return newValidationError("request", "invalid_request", "invalid request body")
	}
	if err := s.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			vErr := &ValidationErrors{}
			for _, fe := range fieldErrs {
				vErr.Errors = append(vErr.Errors, ValidationError{
					Field:   fe.Field(),
					Code:    fe.Tag(),
					Message: "invalid value",
				})
			}
			return vErr
		}
		return newValidationError("request", "invalid_request", "invalid request body")
	}
	return nil
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = ctx
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
