// Package broker serves the HTTP endpoints that stand between the chat
// front end and the OpenAI API: config summary, realtime session creation
// and knowledge-base search.
package broker

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"voxchat/internal/brokerapi"
	"voxchat/internal/config"
	"voxchat/internal/upstream"
)

// SettingsSource yields the resolved configuration, or the reason it could
// not be resolved.
type SettingsSource interface {
	Settings() (*config.Settings, error)
}

// Upstream is the subset of the OpenAI API the broker proxies.
type Upstream interface {
	CreateRealtimeSession(ctx context.Context, apiKey string, req upstream.SessionRequest) (*upstream.SessionReply, error)
	FileSearch(ctx context.Context, apiKey string, req upstream.FileSearchRequest) (*upstream.ResponsesReply, error)
}

type Options struct {
	Settings  SettingsSource
	Upstream  Upstream
	Profile   config.Profile
	StaticDir string
	Logger    zerolog.Logger
}

type Server struct {
	settings  SettingsSource
	upstream  Upstream
	profile   config.Profile
	staticDir string
	log       zerolog.Logger
}

func New(opts Options) *Server {
	return &Server{
		settings:  opts.Settings,
		upstream:  opts.Upstream,
		profile:   opts.Profile,
		staticDir: opts.StaticDir,
		log:       opts.Logger.With().Str("component", "broker").Logger(),
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/session", s.handleSession)
	mux.HandleFunc("POST /api/kb_search", s.handleSearch)
	notFound := func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, brokerapi.ErrorBody{Error: "Not found", Message: r.Method + " " + r.URL.Path})
	}
	mux.HandleFunc("GET /api/", notFound)
	mux.HandleFunc("POST /api/", notFound)
	if s.profile.ServeStatic && s.staticDir != "" {
		mux.Handle("GET /", spaHandler{dir: s.staticDir})
	}

	var h http.Handler = mux
	h = CORS(s.profile.AllowedOrigins, h)
	h = AccessLog(s.log, h)
	h = Recover(s.log, h)
	h = RequestID(h)
	return h
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", ln.Addr().String()).Str("profile", s.profile.Name).Msg("broker listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info().Msg("broker shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "voxchat-broker",
		"timestamp": time.Now().Unix(),
	})
}

// spaHandler serves files from dir and falls back to index.html for any
// path that does not name an existing file.
type spaHandler struct {
	dir string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clean := filepath.Clean("/" + strings.TrimPrefix(r.URL.Path, "/"))
	path := filepath.Join(h.dir, filepath.FromSlash(clean))
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		http.ServeFile(w, r, path)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.dir, "index.html"))
}
