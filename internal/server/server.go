package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	allocationdomain "github.com/smallbiznis/pressledger/internal/allocation/domain"
	auditdomain "github.com/smallbiznis/pressledger/internal/audit/domain"
	balancedomain "github.com/smallbiznis/pressledger/internal/balance/domain"
	"github.com/smallbiznis/pressledger/internal/config"
	customerdomain "github.com/smallbiznis/pressledger/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/pressledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/pressledger/internal/ledger/domain"
	"github.com/smallbiznis/pressledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/pressledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/pressledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/pressledger/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/pressledger/internal/payment/domain"
	reconciliationdomain "github.com/smallbiznis/pressledger/internal/reconciliation/domain"
	statementdomain "github.com/smallbiznis/pressledger/internal/statement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

type EngineParams struct {
	fx.In

	ObsCfg      observability.Config
	HTTPMetrics *obsmetrics.HTTPMetrics `optional:"true"`
}

func NewEngine(p EngineParams) *gin.Engine {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(jsonFieldName)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           p.ObsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(p.HTTPMetrics))
	r.Use(AuditActor())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	customerSvc       customerdomain.Service
	balanceSvc        balancedomain.Service
	ledgerSvc         ledgerdomain.Service
	statementSvc      statementdomain.Service
	invoiceSvc        invoicedomain.Service
	paymentSvc        paymentdomain.Service
	allocationSvc     allocationdomain.Service
	reconciliationSvc reconciliationdomain.Service
	auditSvc          auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	CustomerSvc       customerdomain.Service
	BalanceSvc        balancedomain.Service
	LedgerSvc         ledgerdomain.Service
	StatementSvc      statementdomain.Service
	InvoiceSvc        invoicedomain.Service
	PaymentSvc        paymentdomain.Service
	AllocationSvc     allocationdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	AuditSvc          auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		customerSvc:       p.CustomerSvc,
		balanceSvc:        p.BalanceSvc,
		ledgerSvc:         p.LedgerSvc,
		statementSvc:      p.StatementSvc,
		invoiceSvc:        p.InvoiceSvc,
		paymentSvc:        p.PaymentSvc,
		allocationSvc:     p.AllocationSvc,
		reconciliationSvc: p.ReconciliationSvc,
		auditSvc:          p.AuditSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Customers --------
	api.GET("/customers", s.ListCustomers)
	api.POST("/customers", s.CreateCustomer)
	api.GET("/customers/:id", s.GetCustomerByID)

	// -------- Account --------
	api.GET("/customers/:id/balance", s.GetBalance)
	api.GET("/customers/:id/transactions", s.ListTransactions)
	api.POST("/customers/:id/adjustments", s.PostAdjustment)
	api.PUT("/customers/:id/credit-limit", s.SetCreditLimit)

	// -------- Statements --------
	api.GET("/customers/:id/statements", s.ListStatements)
	api.GET("/customers/:id/statements/current", s.GetCurrentStatement)
	api.GET("/customers/:id/statements/:period_id", s.GetStatement)
	api.POST("/customers/:id/statements/close", s.CloseStatement)
	api.POST("/customers/:id/statements/open", s.OpenStatement)
	api.POST("/customers/:id/statements/rollover", s.RolloverStatement)

	// -------- Reconciliation --------
	api.GET("/customers/:id/reconciliation", s.VerifyAccount)

	// -------- Invoices --------
	api.GET("/invoices", s.ListInvoices)
	api.POST("/invoices", s.CreateInvoice)
	api.GET("/invoices/:id", s.GetInvoiceByID)
	api.POST("/invoices/:id/finalize", s.FinalizeInvoice)
	api.POST("/invoices/:id/cancel", s.CancelInvoice)
	api.GET("/invoices/:id/allocations", s.ListInvoiceAllocations)

	// -------- Payments --------
	api.GET("/payments", s.ListPayments)
	api.POST("/payments", s.RecordPayment)
	api.GET("/payments/:id", s.GetPaymentByID)
	api.POST("/payments/:id/complete", s.CompletePayment)
	api.POST("/payments/:id/fail", s.FailPayment)
	api.POST("/payments/:id/refund", s.RefundPayment)
	api.GET("/payments/:id/allocations", s.ListPaymentAllocations)

	api.GET("/audit-logs", s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
