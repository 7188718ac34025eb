package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/corelauncher/internal/event"
	"github.com/loykin/corelauncher/internal/history"
	mng "github.com/loykin/corelauncher/internal/manager"
	"github.com/loykin/corelauncher/internal/metrics"
	"github.com/loykin/corelauncher/internal/process"
	"github.com/loykin/corelauncher/internal/role"
	"github.com/loykin/corelauncher/internal/schedule"
)

// Router provides embeddable HTTP handlers for supervising the roles.
// Endpoints:
//
//	POST {basePath}/launch|stop|restart   query: role=db|auth|world|client
//	POST {basePath}/start-all|stop-all|restart-all
//	GET  {basePath}/status                query: role (optional)
//	GET  {basePath}/events                server-sent events; query: role (optional)
//	GET  {basePath}/config
//	GET  {basePath}/usage                 when a sampler is configured
//	GET  {basePath}/history               query: role, limit; when a reader is configured
//	GET  {basePath}/schedules             when a scheduler is configured
//	GET  /metrics                         when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	opts     Options
}

// HistoryReader is implemented by history sinks that can be queried.
type HistoryReader interface {
	Recent(ctx context.Context, role string, limit int) ([]history.Event, error)
}

// Options carries the optional collaborators of a Router.
type Options struct {
	// BaseContext bounds role operations. Requests only start operations;
	// a client disconnecting does not abort a half-finished sequence.
	BaseContext context.Context
	// Config returns the effective configuration served on /config.
	Config    func() any
	Sampler   *metrics.Sampler
	History   HistoryReader
	Scheduler *schedule.Scheduler
	Metrics   bool
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/launch, /api/status, ...
func NewRouter(mgr *mng.Manager, basePath string, opts Options) *Router {
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}
	return &Router{mgr: mgr, basePath: normalizeBase(basePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.POST("/launch", r.single(r.mgr.Launch))
	group.POST("/stop", r.single(r.mgr.Stop))
	group.POST("/restart", r.single(r.mgr.Restart))
	group.POST("/start-all", r.bulk(r.mgr.StartAll))
	group.POST("/stop-all", r.bulk(r.mgr.StopAll))
	group.POST("/restart-all", r.bulk(r.mgr.RestartAll))
	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.GET("/config", r.handleConfig)
	group.GET("/usage", r.handleUsage)
	group.GET("/history", r.handleHistory)
	group.GET("/schedules", r.handleSchedules)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router. The
// caller runs ListenAndServe and owns shutdown.
func NewServer(addr, basePath string, mgr *mng.Manager, opts Options) *http.Server {
	r := NewRouter(mgr, basePath, opts)
	// no WriteTimeout: event streams and startup waits outlive any fixed bound
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return r.opts.BaseContext },
	}
}

// --- Handlers ---

func (r *Router) single(op func(context.Context, role.Role) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		ro, err := role.Parse(c.Query("role"))
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		if err := op(r.opts.BaseContext, ro); err != nil {
			writeError(c, statusFor(err), err)
			return
		}
		st, _ := r.mgr.StatusOf(ro)
		writeJSON(c, http.StatusOK, st)
	}
}

func (r *Router) bulk(op func(context.Context) (*mng.Report, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		rep, err := op(r.opts.BaseContext)
		if err != nil {
			writeJSON(c, http.StatusServiceUnavailable, rep)
			return
		}
		writeJSON(c, http.StatusOK, rep)
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("role")
	if name == "" {
		writeJSON(c, http.StatusOK, r.mgr.Status())
		return
	}
	ro, err := role.Parse(name)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	st, err := r.mgr.StatusOf(ro)
	if err != nil {
		writeError(c, http.StatusNotFound, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleEvents(c *gin.Context) {
	var only role.Role
	if name := c.Query("role"); name != "" {
		ro, err := role.Parse(name)
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		only = ro
	}

	ch, cancel := r.mgr.Bus().Subscribe(256)
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	// announce the subscription so clients know nothing before this point is missed
	c.SSEvent("ready", r.mgr.Status())
	c.Writer.Flush()

	ping := time.NewTicker(r.opts.Heartbeat)
	defer ping.Stop()
	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			if only != "" && eventRole(ev) != only {
				return true
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}

func eventRole(ev event.Event) role.Role {
	switch {
	case ev.Status != nil:
		return ev.Status.Role
	case ev.Log != nil:
		return ev.Log.Role
	}
	return ""
}

func (r *Router) handleConfig(c *gin.Context) {
	if r.opts.Config == nil {
		writeError(c, http.StatusNotFound, errors.New("configuration not available"))
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Config())
}

func (r *Router) handleUsage(c *gin.Context) {
	if r.opts.Sampler == nil {
		writeError(c, http.StatusNotFound, errors.New("resource sampling disabled"))
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Sampler.SampleOnce())
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.opts.History == nil {
		writeError(c, http.StatusNotFound, errors.New("history not queryable"))
		return
	}
	name := c.Query("role")
	if name != "" {
		ro, err := role.Parse(name)
		if err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}
		name = ro.String()
	}
	limit := 100
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	evs, err := r.opts.History.Recent(c.Request.Context(), name, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, err)
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func (r *Router) handleSchedules(c *gin.Context) {
	if r.opts.Scheduler == nil {
		writeJSON(c, http.StatusOK, []schedule.Info{})
		return
	}
	writeJSON(c, http.StatusOK, r.opts.Scheduler.Snapshot())
}

// statusFor maps supervisor errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, process.ErrAlreadyRunning),
		errors.Is(err, process.ErrNotRunning),
		errors.Is(err, process.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, process.ErrUnconfigured):
		return http.StatusPreconditionFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
