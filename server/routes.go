package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-pkgz/rest"
)

func (s *Server) initRoutes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RealIP, middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(rest.Ping, s.LoggingMiddleware)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: s.config.GetAllowedOrigins(),
		AllowedMethods: s.config.GetAllowedMethods(),
		AllowedHeaders: s.config.GetAllowedHeaders(),
		MaxAge:         300,
	})

	s.routes = nil
	router.Route("/oauth", func(r chi.Router) {
		r.Use(NoStoreMiddleware)

		// Browser-facing, the resource owner authenticates with HTTP Basic
		s.register(r, http.MethodGet, RouteOAuthAuthorize, s.Authorize())
		s.register(r, http.MethodPost, RouteOAuthAuthorizeDecision, s.AuthorizeDecision())

		// Client-facing
		r.Group(func(rapi chi.Router) {
			rapi.Use(corsMiddleware.Handler)
			rapi.With(s.RateLimitMiddleware).Post(stripPrefix(RouteOAuthToken), s.Token())
			s.routes = append(s.routes, http.MethodPost+" "+RouteOAuthToken)
			s.register(rapi, http.MethodPost, RouteOAuthIntrospect, s.Introspect())
			s.register(rapi, http.MethodPost, RouteOAuthRevoke, s.Revoke())
		})
	})
	s.routes = append(s.routes, http.MethodGet+" "+RoutePing)
	if s.metricsHandler != nil {
		router.Method(http.MethodGet, s.metricsPath, s.metricsHandler)
		s.routes = append(s.routes, http.MethodGet+" "+s.metricsPath)
	}
	return router
}

func (s *Server) register(r chi.Router, method, route string, handler http.HandlerFunc) {
	s.routes = append(s.routes, method+" "+route)
	r.Method(method, stripPrefix(route), handler)
}

// stripPrefix turns a full route into its path under the /oauth sub-router.
func stripPrefix(route string) string {
	return route[len("/oauth"):]
}
