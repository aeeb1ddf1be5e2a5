// Package httpapi exposes the assembly engine and voice sessions over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/giantsdigitaldev/cristos/internal/health"
	"github.com/giantsdigitaldev/cristos/internal/metrics"
	"github.com/giantsdigitaldev/cristos/internal/requestid"
)

const defaultBodyLimit = 26 << 20

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	CORSOrigins []string
	// BodyLimit bounds request bodies, audio uploads included.
	BodyLimit int
}

// Server is the API Fiber application.
type Server struct {
	app      *fiber.App
	handlers *Handlers
	limiter  *rateLimiter
	stop     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new API server. voice may be nil, in
// which case the voice routes answer 503.
func NewServer(cfg ServerConfig, engine TurnEngine, voice VoiceService, checker *health.Checker, m *metrics.Metrics, logger zerolog.Logger) *Server {
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		BodyLimit:             bodyLimit,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s := &Server{
		app:      app,
		handlers: NewHandlers(engine, voice, logger),
		stop:     make(chan struct{}),
		logger:   logger.With().Str("component", "http_server").Logger(),
		config:   cfg,
	}
	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		go s.limiter.run(s.stop)
	}

	s.setupMiddleware(cfg, m)
	s.setupRoutes(checker, m)
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig, m *metrics.Metrics) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: honour a well-formed incoming id, otherwise mint one.
	s.app.Use(func(c *fiber.Ctx) error {
		id := requestid.Accept(c.Get(requestid.Header))
		c.Set(requestid.Header, id)
		c.Locals("request_id", id)
		c.SetUserContext(requestid.WithRequestID(c.UserContext(), id))
		return c.Next()
	})

	if m != nil {
		s.app.Use(func(c *fiber.Ctx) error {
			err := c.Next()
			status := c.Response().StatusCode()
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else if err != nil {
				status = fiber.StatusInternalServerError
			}
			m.RecordHTTP(c.Route().Path, strconv.Itoa(status/100)+"xx")
			return err
		})
	}

	if len(cfg.CORSOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  strings.Join(cfg.CORSOrigins, ","),
			AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, " + UserHeader,
			AllowMethods:  "GET, POST, DELETE, OPTIONS",
			ExposeHeaders: requestid.Header,
		}))
	}

	if s.limiter != nil {
		s.app.Use(s.limiter.middleware())
	}

	s.app.Use(NewAuthMiddleware(cfg.Auth, s.logger))

	// Request log
	s.app.Use(func(c *fiber.Ctx) error {
		path := c.Path()
		if isProbe(path) {
			return c.Next()
		}
		err := c.Next()
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", path).
			Int("status", c.Response().StatusCode()).
			Str("ip", c.IP()).
			Str("user_id", userID(c)).
			Str("request_id", requestid.FromContext(c.UserContext())).
			Msg("api request")
		return err
	})
}

func (s *Server) setupRoutes(checker *health.Checker, m *metrics.Metrics) {
	h := s.handlers

	// Probes and metrics skip rate limiting and auth.
	s.app.Get("/healthz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	if checker != nil {
		s.app.Get("/readyz", adaptor.HTTPHandlerFunc(checker.ReadinessHandler()))
	} else {
		s.app.Get("/readyz", adaptor.HTTPHandlerFunc(health.LivenessHandler()))
	}
	if m != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	} else {
		s.app.Get("/metrics", func(c *fiber.Ctx) error {
			return c.SendString("# No metrics collector configured\n")
		})
	}

	v1 := s.app.Group("/api/v1")

	v1.Post("/turns", h.PostTurn)
	v1.Get("/assembly", h.GetAssembly)

	v1.Post("/voice/sessions", h.StartVoice)
	v1.Get("/voice/sessions/:id", h.GetVoice)
	v1.Post("/voice/sessions/:id/audio", h.SubmitAudio)
	v1.Delete("/voice/sessions/:id", h.AbandonVoice)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}

		logger.Error().
			Err(err).
			Int("status", code).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")

		if code == fiber.StatusInternalServerError {
			// Don't leak internal details.
			return problemResponse(c, code, "internal_error", "Internal Server Error", "An internal error occurred")
		}
		return problemResponse(c, code, "http_error", http.StatusText(code), err.Error())
	}
}
