// Package api exposes the workflow commands over HTTP with gin. Handlers
// only translate: every rule lives in the services they call.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartdine/internal/logger"
	"smartdine/internal/observability"
	"smartdine/internal/services/auth"
	"smartdine/internal/services/billing"
	"smartdine/internal/services/menu"
	"smartdine/internal/services/notify"
	"smartdine/internal/services/order"
	"smartdine/internal/services/report"
	"smartdine/internal/services/table"
)

// Services are the collaborators the handlers call
type Services struct {
	Tables  *table.Manager
	Menu    *menu.Service
	Orders  *order.Service
	Bills   *billing.Service
	Changes *notify.Coordinator
	Reports *report.Service
	Auth    *auth.Service
	// Health reports storage and broker reachability; nil means always healthy
	Health func(ctx context.Context) error
}

// Options configure the HTTP server
type Options struct {
	Port            int
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Server is the HTTP API
type Server struct {
	services Services
	logger   *logger.Logger
	opts     Options
	router   *gin.Engine
	started  time.Time
}

// NewServer builds the router and registers every route
func NewServer(services Services, opts Options, log *logger.Logger) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(log))
	r.Use(requestMetrics())
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders: []string{"Content-Length", requestIDHeader},
			MaxAge:        12 * time.Hour,
		}))
	}

	s := &Server{
		services: services,
		logger:   log,
		opts:     opts,
		router:   r,
		started:  time.Now(),
	}
	s.routes()
	return s
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.POST("/auth/login", s.login)

	authed := s.router.Group("/", authenticate(s.services.Auth, s.logger))

	tables := authed.Group("/tables")
	tables.GET("", s.listTables)
	tables.POST("", s.createTable)
	tables.DELETE("/:id", s.deleteTable)
	tables.POST("/:id/reserve", s.reserveTable)
	tables.DELETE("/:id/reserve", s.clearReservation)
	tables.POST("/:id/release", s.releaseTable)

	authed.GET("/menu", s.listMenu)
	authed.PATCH("/menu/:id", s.updateMenuItem)

	orders := authed.Group("/orders")
	orders.POST("", s.placeOrder)
	orders.GET("", s.listOrders)
	orders.GET("/:id", s.getOrder)
	orders.GET("/:id/history", s.orderHistory)
	orders.POST("/:id/items", s.addItems)
	orders.POST("/:id/status", s.advanceOrder)
	orders.POST("/:id/items/:item_id/status", s.advanceItem)
	orders.POST("/:id/serve", s.serveOrder)
	orders.POST("/:id/cancel", s.cancelOrder)

	bills := authed.Group("/bills")
	bills.POST("", s.createBill)
	bills.GET("/pending", s.pendingBills)
	bills.GET("/:id", s.getBill)
	bills.POST("/:id/pay", s.payBill)
	bills.POST("/:id/void", s.voidBill)

	authed.GET("/changes/:collection", s.changesSince)
	authed.GET("/revisions", s.revisions)

	reports := authed.Group("/reports")
	reports.GET("/sales", s.salesReport)
	reports.GET("/top-items", s.topItemsReport)
	reports.GET("/occupancy", s.occupancyReport)
	reports.GET("/waiters", s.waitersReport)
	reports.GET("/revenue-by-date", s.revenueByDateReport)
	reports.GET("/categories", s.categorySalesReport)
	reports.GET("/hourly", s.hourlyPatternReport)

	users := authed.Group("/users")
	users.GET("", s.listUsers)
	users.POST("", s.createUser)
	users.PATCH("/:id", s.updateUser)
	users.POST("/:id/deactivate", s.deactivateUser)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_started", fmt.Sprintf("HTTP API listening on port %d", s.opts.Port), "startup", map[string]interface{}{
			"port": s.opts.Port,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("graceful_shutdown", "Shutting down HTTP API", "", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "api-server",
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	if s.services.Health != nil {
		if err := s.services.Health(ctx); err != nil {
			s.logger.Error("health_check_failed", "Dependency check failed", requestIDOf(c), err, nil)
			response["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, response)
			return
		}
	}
	c.JSON(http.StatusOK, response)
}
