package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/chinuno-usami/server-tan/internal/config"
	"github.com/chinuno-usami/server-tan/internal/errs"
	"github.com/chinuno-usami/server-tan/internal/runtime"
	channelsvc "github.com/chinuno-usami/server-tan/internal/services/channels"
	contentsvc "github.com/chinuno-usami/server-tan/internal/services/contents"
	relaysvc "github.com/chinuno-usami/server-tan/internal/services/relay"
	usersvc "github.com/chinuno-usami/server-tan/internal/services/users"
	"github.com/chinuno-usami/server-tan/internal/wechat"
)

// detailPlaceholder is replaced with the message body when rendering the
// content permalink page.
const detailPlaceholder = "{::}"

const defaultDetailPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Message</title></head>
<body><pre>{::}</pre></body></html>`

// Services groups everything the HTTP layer calls into.
type Services struct {
	Users    *usersvc.Service
	Channels *channelsvc.Service
	Contents *contentsvc.Service
	Relay    *relaysvc.Service
}

// Server is the relay's HTTP surface: the platform webhook, the publish
// endpoint, and content permalinks.
type Server struct {
	rt     *runtime.Runtime
	cfg    cfgpkg.Config
	svcs   Services
	srv    *http.Server
	lis    net.Listener
	detail string
	logger *zap.Logger
}

// New builds the server and its routes.
func New(rt *runtime.Runtime, svcs Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	s := &Server{
		rt:     rt,
		cfg:    rt.Config(),
		svcs:   svcs,
		srv:    &http.Server{Handler: mux},
		detail: loadDetailTemplate(rt.Config().DetailTemplate, logger),
		logger: logger,
	}
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/wx", s.handleWebhook)
	mux.HandleFunc("/sub", s.handlePublish)
	mux.HandleFunc("/content/", s.handleContent)
	return s
}

func loadDetailTemplate(path string, logger *zap.Logger) string {
	if path == "" {
		return defaultDetailPage
	}
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("detail template unreadable, using built-in page",
			zap.String("path", path), zap.Error(err))
		return defaultDetailPage
	}
	return string(b)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Close force-closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Handler exposes the route mux, used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		http.Error(w, "not serving", http.StatusServiceUnavailable)
		return
	}
	fmt.Fprintln(w, "ok")
}

// verifySignature checks the webhook query signature shared by GET and POST.
func (s *Server) verifySignature(r *http.Request) bool {
	q := r.URL.Query()
	return wechat.CheckSignature(s.cfg.VerifyToken, q.Get("signature"), q.Get("timestamp"), q.Get("nonce"))
}

// handleWebhook serves the platform callback: GET is the echo verification
// handshake, POST carries user events and text commands.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.verifySignature(r) {
		s.logger.Warn("webhook signature mismatch", zap.String("remote", r.RemoteAddr))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	switch r.Method {
	case http.MethodGet:
		fmt.Fprint(w, r.URL.Query().Get("echostr"))
	case http.MethodPost:
		s.handleInbound(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handlePublish is the send-key publish endpoint:
// GET /sub?sendkey=...&text=...&desp=...
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sendKey := q.Get("sendkey")
	if sendKey == "" {
		http.Error(w, "sendkey is required", http.StatusBadRequest)
		return
	}
	res, err := s.svcs.Relay.Publish(r.Context(), sendKey, q.Get("text"), q.Get("desp"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.logger.Debug("publish accepted",
		zap.String("channel", res.ChannelID),
		zap.Int("delivered", res.Delivered))
	fmt.Fprint(w, "success")
}

// handleContent renders the permalink page for GET /content/{id}.
func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/content/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	body, err := s.svcs.Contents.Get(id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, strings.Replace(s.detail, detailPlaceholder, body, 1))
}

// writeServiceError maps the error taxonomy onto HTTP statuses. Storage
// faults become a 500 for this request; the process keeps serving.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrAlreadyExists):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, errs.ErrPermissionDenied):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, errs.ErrUpstream):
		s.logger.Error("upstream failure", zap.Error(err))
		http.Error(w, "upstream failure", http.StatusBadGateway)
	default:
		s.logger.Error("internal failure", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
