// Package debugger serves the runtime-side debugger wire protocol over a
// websocket upgraded from a gorilla/mux route, alongside a Prometheus
// /metrics endpoint and liveness/readiness probes.
package debugger

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fractalforge/ecsruntime/infrastructure/errors"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/infrastructure/middleware"
	"github.com/fractalforge/ecsruntime/internal/hostapi"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
	"github.com/fractalforge/ecsruntime/pkg/handle"
)

// Config configures the debugger transport surface.
type Config struct {
	Addr string // e.g. "127.0.0.1:9110"
	Path string // websocket path, default "/debugger"

	// Gatherer backs the /metrics endpoint; nil uses the process default.
	Gatherer prometheus.Gatherer
}

// Server is the runtime half of the debugger protocol: it answers
// request_worlds / request_entities / request_components /
// request_profiler_metrics against a hostapi.Runtime.
type Server struct {
	cfg     Config
	runtime *hostapi.Runtime
	logger  *logging.Logger
	metrics *metrics.Metrics

	health   *middleware.HealthChecker
	server   *http.Server
	listener net.Listener
	closer   *middleware.Closer
	ready    bool
}

// commandBacklogLimit is the pending-drain depth past which the health
// probe reports a world's command queue as backed up: far beyond anything a
// healthy between-phase drain leaves behind.
const commandBacklogLimit = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New assembles a Server; call Start to bind and serve.
func New(cfg Config, runtime *hostapi.Runtime, m *metrics.Metrics, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/debugger"
	}
	s := &Server{
		cfg:     cfg,
		runtime: runtime,
		logger:  logger,
		metrics: m,
		health:  middleware.NewHealthChecker("ecsruntime"),
	}

	// /health is only as honest as its probes: a world whose pipeline has
	// begun teardown, or whose command queue never drains, is degraded even
	// while this HTTP surface itself is perfectly responsive.
	s.health.RegisterProbe("pipeline", func() error {
		for _, info := range runtime.Worlds() {
			w, ok := runtime.World(info.Handle)
			if !ok {
				continue
			}
			if w.Pipeline.Shutdown.Closing() {
				phase, drained := w.Pipeline.Shutdown.Progress()
				return fmt.Errorf("world %q: pipeline closed (last phase %q, drained=%v)", w.ID, phase, drained)
			}
		}
		return nil
	})
	s.health.RegisterProbe("command_queue", func() error {
		for _, info := range runtime.Worlds() {
			w, ok := runtime.World(info.Handle)
			if !ok {
				continue
			}
			if n := w.Queue.Len(); n > commandBacklogLimit {
				return fmt.Errorf("world %q: %d commands pending drain", w.ID, n)
			}
		}
		return nil
	})
	return s
}

// Router builds the debugger HTTP surface: the websocket route, /metrics,
// and health probes, wrapped in the logging/metrics/recovery middleware
// chain.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	if s.logger != nil {
		router.Use(middleware.LoggingMiddleware(s.logger))
	}
	if s.metrics != nil {
		router.Use(middleware.MetricsMiddleware(s.metrics))
	}
	if s.logger != nil {
		router.Use(middleware.NewRecoveryMiddleware(s.logger).Handler)
	}

	router.HandleFunc(s.cfg.Path, s.handleUpgrade).Methods("GET")

	gatherer := s.cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/health", s.health.Handler()).Methods("GET")
	router.HandleFunc("/live", middleware.LivenessHandler()).Methods("GET")
	router.HandleFunc("/ready", middleware.ReadinessHandler(&s.ready)).Methods("GET")
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(middleware.RuntimeStats())
	}).Methods("GET")

	return router
}

// Start binds cfg.Addr and serves until Close. Returns the bound address,
// useful when Addr requested an ephemeral port.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return "", errors.Wrap(errors.CodeInternalInvariant, "debugger: listen failed", err)
	}
	s.listener = ln
	s.server = &http.Server{Handler: s.Router()}
	s.closer = middleware.NewCloser(s.server, 10*time.Second)

	go func() { _ = s.server.Serve(ln) }()
	s.ready = true
	return ln.Addr().String(), nil
}

// Close shuts the HTTP surface down gracefully.
func (s *Server) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if s.metrics != nil {
		s.metrics.DebugConnections.Inc()
		defer s.metrics.DebugConnections.Dec()
	}
	defer conn.Close()
	s.serveConn(r.Context(), conn)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := s.dispatch(ctx, req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) interface{} {
	switch req.Type {
	case RequestWorlds:
		return s.worlds()
	case RequestEntities:
		return s.entities(req)
	case RequestComponents:
		return s.components(req)
	case RequestProfilerMetrics:
		return s.profilerMetrics(req)
	default:
		return ErrorResponse{Type: "error", Code: string(errors.CodeMalformedPacket), Message: "unknown request type: " + req.Type}
	}
}

func (s *Server) worlds() WorldsResponse {
	infos := s.runtime.Worlds()
	rows := make([]WorldRow, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, WorldRow{ID: uint64(info.Handle), Name: info.Name, EntityCount: info.EntityCount})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return WorldsResponse{Type: "worlds", Worlds: rows}
}

func (s *Server) lookupWorld(worldID uint64) (*ecsworld.World, bool) {
	return s.runtime.World(handle.Handle(worldID))
}

func (s *Server) entities(req Request) interface{} {
	w, ok := s.lookupWorld(req.WorldID)
	if !ok {
		return ErrorResponse{Type: "error", Code: string(errors.CodeUnknownComponent), Message: "unknown world"}
	}

	live := w.Entities.Live()
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(live) {
		offset = len(live)
	}
	end := len(live)
	if req.Count > 0 && offset+req.Count < end {
		end = offset + req.Count
	}

	rows := make([]EntityRow, 0, end-offset)
	for _, e := range live[offset:end] {
		rows = append(rows, EntityRow{
			ID:             uint64(e),
			Name:           w.GetName(e),
			ComponentCount: len(w.Store.ComponentsOf(e)),
		})
	}
	return EntitiesResponse{
		Type:     "entities",
		WorldID:  req.WorldID,
		Offset:   offset,
		Count:    len(rows),
		Entities: rows,
	}
}

func (s *Server) components(req Request) interface{} {
	w, ok := s.lookupWorld(req.WorldID)
	if !ok {
		return ErrorResponse{Type: "error", Code: string(errors.CodeUnknownComponent), Message: "unknown world"}
	}
	entity := handle.Handle(req.EntityID)

	rows := []ComponentRow{}
	for _, ref := range w.Store.ComponentsOf(entity) {
		info, known := w.Types.LookupByID(ref.Type)
		name := "<unregistered>"
		if known {
			name = info.Name
		}

		if ref.Second != 0 {
			// Pair components carry string-only identity; data stays empty.
			rows = append(rows, ComponentRow{Name: name, Kind: "pair", Data: map[string]interface{}{}})
			continue
		}

		data := map[string]interface{}{}
		if known {
			if dict, err := w.Get(entity, name); err == nil {
				data = dict
			}
		}
		rows = append(rows, ComponentRow{Name: name, Kind: "component", Data: data})
	}
	return ComponentsResponse{Type: "components", WorldID: req.WorldID, EntityID: req.EntityID, Components: rows}
}

func (s *Server) profilerMetrics(req Request) interface{} {
	w, ok := s.lookupWorld(req.WorldID)
	if !ok {
		return ErrorResponse{Type: "error", Code: string(errors.CodeUnknownComponent), Message: "unknown world"}
	}

	totalUsec, profiles := w.Profiler.Snapshot()
	systems := make([]SystemMetrics, 0, len(profiles))
	for _, p := range profiles {
		systems = append(systems, SystemMetrics{
			Name:        p.Name,
			TimeUsec:    p.TotalUsec,
			CallCount:   p.CallCount,
			EntityCount: p.EntityCount,
			MinUsec:     p.MinUsec,
			MaxUsec:     p.MaxUsec,
			Paused:      p.Paused,
		})
	}
	sort.Slice(systems, func(i, j int) bool { return systems[i].Name < systems[j].Name })
	return ProfilerMetricsResponse{
		Type:          "profiler_metrics",
		WorldID:       req.WorldID,
		TotalTimeUsec: totalUsec,
		SystemCount:   len(systems),
		Systems:       systems,
	}
}
