package server

import (
	"net/http"

	"univapay-integration-demo/internal/handler"
	appmiddleware "univapay-integration-demo/internal/middleware"
	"univapay-integration-demo/internal/model"
	"univapay-integration-demo/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"
)

type Server struct {
	echo            *echo.Echo
	db              *gorm.DB
	authHandler     *handler.AuthHandler
	checkoutHandler *handler.CheckoutHandler
	webhookHandler  *handler.WebhookHandler
	authService     service.AuthService
}

func NewServer(
	db *gorm.DB,
	authService service.AuthService,
	checkoutService service.CheckoutService,
	webhookService service.WebhookService,
) *Server {
	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:            e,
		db:              db,
		authHandler:     handler.NewAuthHandler(authService),
		checkoutHandler: handler.NewCheckoutHandler(checkoutService),
		webhookHandler:  handler.NewWebhookHandler(webhookService),
		authService:     authService,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	api.GET("/db/health", s.dbHealth)

	api.POST("/login", s.authHandler.Login)

	// -------- univapay webhooks / callbacks --------
	api.POST("/univapay/webhook", s.webhookHandler.UnivapayWebhook)
	api.GET("/checkout/complete", s.checkoutHandler.CheckoutComplete)

	// -------- authenticated --------
	auth := api.Group("", appmiddleware.AuthMiddleware(s.authService))
	auth.GET("/me", s.authHandler.Me)
	auth.GET("/payments", s.checkoutHandler.ListPayments)
	auth.POST("/checkout/charge", s.checkoutHandler.CreateCharge)
	auth.POST("/checkout/subscription", s.checkoutHandler.CreateSubscription)
	auth.POST("/subscriptions/:subscriptionID/cancel", s.checkoutHandler.CancelSubscription)
}

func (s *Server) dbHealth(c echo.Context) error {
	var payments int64
	if err := s.db.Model(&model.Payment{}).Count(&payments).Error; err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":             true,
		"payments_count": payments,
	})
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
