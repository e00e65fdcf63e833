// Package server provides embeddable HTTP handlers for driving the pipeline
// remotely: queueing proposals, triggering applies and watchdog passes, and
// reading state.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Hensonam23/self-learning-ai/internal/executor"
	"github.com/Hensonam23/self-learning-ai/internal/metrics"
	"github.com/Hensonam23/self-learning-ai/internal/proposal"
	"github.com/Hensonam23/self-learning-ai/internal/selftest"
	"github.com/Hensonam23/self-learning-ai/internal/watchdog"
)

const apiKeyHeader = "x-api-key"

// Router provides the HTTP surface. Endpoints:
//
//	GET  /health                  liveness, always open
//	GET  /metrics                 Prometheus exposition, always open
//	GET  {basePath}/proposals     list proposals, newest first
//	POST {basePath}/proposals     body: {"title": ..., "payload": ...}
//	POST {basePath}/apply         apply the newest pending proposal, synchronous
//	POST {basePath}/watchdog/tick run one health pass
//	GET  {basePath}/selftest      run the self-test suite
//
// When an API key is configured, the {basePath} group requires it in the
// x-api-key header.
type Router struct {
	store    *proposal.Store
	exec     *executor.Executor
	dog      *watchdog.Watchdog
	suite    *selftest.Suite
	apiKey   string
	basePath string
	log      *slog.Logger
}

// Options wires a Router. Store and Executor are required; Watchdog and
// Suite may be nil, disabling their endpoints.
type Options struct {
	Store    *proposal.Store
	Executor *executor.Executor
	Watchdog *watchdog.Watchdog
	Suite    *selftest.Suite
	APIKey   string
	BasePath string
	Logger   *slog.Logger
}

func NewRouter(o Options) *Router {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Router{
		store:    o.Store,
		exec:     o.Executor,
		dog:      o.Watchdog,
		suite:    o.Suite,
		apiKey:   o.APIKey,
		basePath: sanitizeBase(o.BasePath),
		log:      o.Logger,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/health", func(c *gin.Context) {
		writeJSON(c, http.StatusOK, gin.H{"ok": true})
	})
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	group := g.Group(r.basePath)
	if r.apiKey != "" {
		group.Use(r.requireKey)
	}
	group.GET("/proposals", r.handleList)
	group.POST("/proposals", r.handlePropose)
	group.POST("/apply", r.handleApply)
	group.POST("/watchdog/tick", r.handleWatchdogTick)
	group.GET("/selftest", r.handleSelftest)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, o Options) *http.Server {
	r := NewRouter(o)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) requireKey(c *gin.Context) {
	if c.GetHeader(apiKeyHeader) != r.apiKey {
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "invalid or missing api key"})
		c.Abort()
		return
	}
	c.Next()
}

func (r *Router) handleList(c *gin.Context) {
	list, err := r.store.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"proposals": list})
}

type proposeReq struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

func (r *Router) handlePropose(c *gin.Context) {
	var req proposeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	id, err := r.store.Create(req.Title, req.Payload)
	if err != nil {
		if errors.Is(err, proposal.ErrInvalidInput) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	r.log.Info("proposal queued via api", "proposal", id)
	writeJSON(c, http.StatusCreated, gin.H{"id": id})
}

type applyResp struct {
	Status     string `json:"status"`
	ProposalID string `json:"proposal_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	ExitCode   int    `json:"exit_code,omitempty"`
	LogPath    string `json:"log_path,omitempty"`
}

// handleApply runs the guarded apply synchronously. Contention is a normal
// 200 with status "skipped"; only a rollback failure is a 500.
func (r *Router) handleApply(c *gin.Context) {
	out, err := r.exec.ApplyLatest(c.Request.Context())
	if err != nil {
		status := http.StatusInternalServerError
		writeJSON(c, status, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, applyResp{
		Status:     string(out.Status),
		ProposalID: out.ProposalID,
		Reason:     out.Reason,
		ExitCode:   out.ExitCode,
		LogPath:    out.LogPath,
	})
}

func (r *Router) handleWatchdogTick(c *gin.Context) {
	if r.dog == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "watchdog not configured"})
		return
	}
	if err := r.dog.Tick(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

func (r *Router) handleSelftest(c *gin.Context) {
	if r.suite == nil || r.suite.Len() == 0 {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "self-test suite not configured"})
		return
	}
	res := r.suite.Run(c.Request.Context())
	status := http.StatusOK
	if !res.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(c, status, gin.H{"ok": res.OK, "output": res.Output, "failed": res.Failed})
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}
