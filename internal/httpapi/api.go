// Package httpapi serves the lifecycle engine over JSON/HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"licensed/internal/license"
	"licensed/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
)

// Engine is the lifecycle contract the HTTP layer depends on.
type Engine interface {
	ListLicenses() ([]license.License, error)
	GetLicense(key string) (license.License, error)
	Activate(key, machineID, activatedBy string) (license.License, error)
	Deactivate(key, machineID string) (license.License, error)
	Status(key string) (license.Report, error)
}

type Options struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type API struct {
	engine   Engine
	log      *slog.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	opts     Options
}

func New(engine Engine, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &API{
		engine:   engine,
		log:      opts.Logger.With(slog.String("component", "httpapi")),
		metrics:  opts.Metrics,
		validate: v,
		opts:     opts,
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(a.instrument)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.Timeout(a.opts.RequestTimeout))

	r.Get("/healthz", a.handleHealth)
	r.Get("/api/health", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	r.Route("/api/licenses", func(r chi.Router) {
		r.Get("/", a.handleList)
		r.Route("/{key}", func(r chi.Router) {
			r.Get("/", a.handleGet)
			r.Get("/status", a.handleStatus)
			r.Post("/activate", a.handleActivate)
			r.Post("/deactivate", a.handleDeactivate)
		})
	})
	return r
}
