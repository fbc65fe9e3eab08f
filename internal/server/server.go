package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	commissiondomain "github.com/smallbiznis/enrollment/internal/commission/domain"
	"github.com/smallbiznis/enrollment/internal/config"
	enrollmentdomain "github.com/smallbiznis/enrollment/internal/enrollment/domain"
	memberdomain "github.com/smallbiznis/enrollment/internal/member/domain"
	notificationdomain "github.com/smallbiznis/enrollment/internal/notification/domain"
	"github.com/smallbiznis/enrollment/internal/observability"
	obslogger "github.com/smallbiznis/enrollment/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/enrollment/internal/observability/metrics"
	obstracing "github.com/smallbiznis/enrollment/internal/observability/tracing"
	"github.com/smallbiznis/enrollment/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(
		registerGin,
		NewStaticTokenAuthenticator,
		NewServer,
	),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.String("addr", srv.Addr), zap.Error(err))
				}
			}()
			log.Info("http.server.started", zap.String("addr", srv.Addr))
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
	engine        *gin.Engine
	cfg           config.Config
	enrollment    enrollmentdomain.Service
	members       memberdomain.Service
	notifications notificationdomain.Service
	commissions   commissiondomain.Service
	admin         AdminAuthenticator
	limiter       *ratelimit.EnrollmentLimiter
	obsMetrics    *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Enrollment    enrollmentdomain.Service
	Members       memberdomain.Service
	Notifications notificationdomain.Service
	Commissions   commissiondomain.Service
	Admin         AdminAuthenticator
	Limiter       *ratelimit.EnrollmentLimiter `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics           `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		enrollment:    p.Enrollment,
		members:       p.Members,
		notifications: p.Notifications,
		commissions:   p.Commissions,
		admin:         p.Admin,
		limiter:       p.Limiter,
		obsMetrics:    p.ObsMetrics,
	}

	svc.registerEnrollmentRoutes()
	svc.registerGatewayRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerEnrollmentRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/registrations", s.EnrollmentRateLimit(), s.SubmitRegistration)
	v1.POST("/registrations/:correlation_id/payment-sessions", s.EnrollmentRateLimit(), s.StartPaymentSession)
}

// The callback route is part of the signed payload, so it comes from config
// rather than being hard-coded.
func (s *Server) registerGatewayRoutes() {
	route := s.cfg.Gateway.CallbackRoute
	if route == "" {
		route = "/v1/gateway/callback"
	}
	s.engine.POST(route, s.HandleGatewayCallback)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.AdminRequired())

	admin.GET("/notifications", s.ListNotifications)
	admin.POST("/notifications/:id/resolve", s.ResolveNotification)
	admin.GET("/members/:customer_number", s.GetMemberByCustomerNumber)
	admin.GET("/commissions/quote", s.QuoteCommission)
	admin.GET("/members/:customer_number/commission", s.GetMemberCommission)
}
