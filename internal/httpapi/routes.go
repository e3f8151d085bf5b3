package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/DoyleJ11/poker-planning-backend/internal/hub"
	"github.com/DoyleJ11/poker-planning-backend/internal/ws"
)

type Deps struct {
	Hub            *hub.Hub
	Logger         *zap.Logger
	AllowedOrigins []string
	WS             ws.Options
}

func SetupRoutes(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.WS.Logger == nil {
		d.WS.Logger = d.Logger
	}
	a := &api{hub: d.Hub, log: d.Logger.Named("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(a.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/health", Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", a.createSession)
		r.Get("/", a.listSessions)
		r.Get("/{sessionId}", a.getSession)
		r.Post("/{sessionId}/items", a.addItem)
		r.Post("/{sessionId}/current-item", a.setCurrentItem)
	})

	r.Get("/ws/{sessionId}", ws.Handler(d.Hub, d.WS))

	c := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// RequestLogger logs one line per request once it has been served.
func RequestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
