package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	config "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.hive_bridge/src/production/MQT.Logger"
)

const checkTimeout = 5 * time.Second

// BrokerStatus reports the shared broker connection state.
type BrokerStatus interface {
	IsConnected() bool
	SubscriptionCount() int
}

// Pinger checks the desired-subscription store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SinkHealth checks the time-series sink.
type SinkHealth interface {
	Health(ctx context.Context) error
}

// Server exposes liveness, readiness and metrics for the bridge worker.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	broker BrokerStatus
	store  Pinger
	sink   SinkHealth
	logger *logger.Logger
}

func NewServer(cfg config.ServerConfig, broker BrokerStatus, store Pinger, sink SinkHealth, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		broker: broker,
		store:  store,
		sink:   sink,
		logger: log.WithComponent("health"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())
	if len(cfg.CORSOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowMethods: []string{http.MethodGet},
			MaxAge:       12 * time.Hour,
		}))
	}

	s.router.GET("/health/live", s.HealthLive)
	s.router.GET("/health/ready", s.HealthReady)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.srv = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.srv.Addr).Info("health server starting")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) HealthLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HealthReady answers 200 only when the broker, the store and the sink all respond.
func (s *Server) HealthReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()

	ready := true
	checks := gin.H{}

	brokerCheck := gin.H{"status": "ok", "subscriptions": s.broker.SubscriptionCount()}
	if !s.broker.IsConnected() {
		ready = false
		brokerCheck["status"] = "disconnected"
	}
	checks["broker"] = brokerCheck

	checks["postgres"] = checkResult(s.store.Ping(ctx), &ready)
	checks["sink"] = checkResult(s.sink.Health(ctx), &ready)

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}

func checkResult(err error, ready *bool) gin.H {
	if err != nil {
		*ready = false
		return gin.H{"status": "error", "error": err.Error()}
	}
	return gin.H{"status": "ok"}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("health request")
	}
}
