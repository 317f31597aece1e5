package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jrsteele09/snowflake-admin-console/identity"
	"github.com/jrsteele09/snowflake-admin-console/internal/config"
	"github.com/jrsteele09/snowflake-admin-console/oauth"
	"github.com/jrsteele09/snowflake-admin-console/session"
)

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	exchanger *oauth.Exchanger
	sessions  *session.Manager
	gate      *session.Gate
	identity  *identity.Resolver
	warehouse WarehouseClient
}

// Deps carries the injectable collaborators. Nil fields get production
// defaults; tests swap in fakes.
type Deps struct {
	Warehouse WarehouseClient
	Exchanger *oauth.Exchanger
	Sessions  *session.Manager
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	exchanger := deps.Exchanger
	if exchanger == nil {
		exchanger = oauth.NewExchanger(cfg, oauth.NewStateStore())
	}

	sessions := deps.Sessions
	if sessions == nil {
		var err error
		sessions, err = session.NewManager(session.NewInMemoryRepo(), exchanger)
		if err != nil {
			return nil, fmt.Errorf("[Server New] failed to create session manager: %w", err)
		}
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    cfg,
		exchanger: exchanger,
		sessions:  sessions,
		gate:      session.NewGate(sessions, cfg.GetInactivityTimeout()),
		warehouse: deps.Warehouse,
		identity: identity.NewResolver(sessions, cfg.GetAllowGrantRoles(), identity.Fallback{
			Enabled: cfg.GetIdentityFallbackEnabled(),
			User:    cfg.GetFallbackUser(),
			Role:    cfg.GetFallbackRole(),
		}),
	}
	s.env = cfg.GetEnv()

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + resetColor
	} else {
		displayMethod = gray + paddedMethod + resetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
