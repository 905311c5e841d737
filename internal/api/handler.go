package api

import (
	"net/http"
	"time"

	"webhook-trader/internal/activity"
	"webhook-trader/internal/events"
	"webhook-trader/internal/executor"
	"webhook-trader/internal/ledger"
	"webhook-trader/internal/monitor"
	"webhook-trader/internal/pipeline"
	"webhook-trader/internal/registry"
	"webhook-trader/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the signal pipeline.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Registry  *registry.Registry
	Pipeline  *pipeline.Coordinator
	Ledger    *ledger.Ledger
	Activity  *activity.Log
	Gateway   *executor.PaperGateway
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to clients.
type SystemMeta struct {
	Venue       string
	Version     string
	DedupWindow time.Duration
	StartedAt   time.Time
}

// Deps collects everything the server needs; all fields are required
// except Gateway and Metrics.
type Deps struct {
	Bus       *events.Bus
	DB        *db.Database
	Registry  *registry.Registry
	Pipeline  *pipeline.Coordinator
	Ledger    *ledger.Ledger
	Activity  *activity.Log
	Gateway   *executor.PaperGateway
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
	RateLimit RateLimitConfig
}

func NewServer(d Deps) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(d.Metrics))
	r.Use(RateLimitMiddleware(d.RateLimit))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       d.Bus,
		DB:        d.DB,
		Registry:  d.Registry,
		Pipeline:  d.Pipeline,
		Ledger:    d.Ledger,
		Activity:  d.Activity,
		Gateway:   d.Gateway,
		Metrics:   d.Metrics,
		JWTSecret: d.JWTSecret,
		Meta:      d.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Inbound webhooks are unauthenticated: the upstream alert
		// source cannot attach credentials.
		api.POST("/webhook/tv", s.webhookTV)
		api.POST("/webhook/raw", s.webhookRaw)
		api.POST("/test/signal", s.testSignal)

		// History views consumed by the dashboard.
		api.GET("/signals", s.getSignals)
		api.GET("/activity", s.getActivity)

		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Management routes
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies/:id/toggle", s.toggleStrategy)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
