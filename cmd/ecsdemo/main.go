// Package main runs the whole engine headless against in-process stub
// backends: a world with an occlusion/render pipeline over a recording
// render backend, a replication host over the websocket transport, and the
// debugger surface for an inspector to connect to. It exists to exercise
// the module end-to-end; it is not a product surface.
package main

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fractalforge/ecsruntime/infrastructure/config"
	"github.com/fractalforge/ecsruntime/infrastructure/logging"
	"github.com/fractalforge/ecsruntime/infrastructure/metrics"
	"github.com/fractalforge/ecsruntime/internal/debugger"
	"github.com/fractalforge/ecsruntime/internal/hostapi"
	"github.com/fractalforge/ecsruntime/internal/network/wstransport"
	"github.com/fractalforge/ecsruntime/internal/occlusion"
	"github.com/fractalforge/ecsruntime/internal/render"
	"github.com/fractalforge/ecsruntime/internal/render/renderbackendtest"
	"github.com/fractalforge/ecsruntime/internal/replication"
	"github.com/fractalforge/ecsruntime/pkg/ecsworld"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	cfg := config.LoadFromEnv()
	logger := logging.NewFromEnv("ecsdemo")
	m := metrics.Init()

	runtime := hostapi.NewRuntime(cfg, m, logger)
	wh, err := runtime.CreateWorld("demo")
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("create world failed")
	}
	w, _ := runtime.World(wh)

	// Occlusion + render pipeline over the recording backend stub.
	occComps := occlusion.RegisterComponents(w)
	renderComps := render.RegisterComponents(w, occComps)
	oracle := occlusion.New(cfg.OcclusionBufferWidth, cfg.OcclusionBufferHeight, cfg.OcclusionEpsilon, cfg.OcclusionSampleCount)
	backend := renderbackendtest.New()

	if err := occlusion.RegisterPhases(w); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("register occlusion phases failed")
	}
	if err := render.RegisterPhases(w); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("register render phases failed")
	}
	if err := occlusion.RegisterSystems(w, oracle, occComps); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("register occlusion systems failed")
	}
	if err := render.RegisterSystems(w, occComps, renderComps, backend, render.NewBatchTracker()); err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("register render systems failed")
	}

	seedScene(logger, w, occComps, renderComps, backend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Debugger surface: websocket protocol + /metrics + health probes.
	dbg := debugger.New(debugger.Config{Addr: env("ECS_DEBUGGER_ADDR", "127.0.0.1:9110")}, runtime, m, logger)
	dbgAddr, err := dbg.Start()
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("debugger listen failed")
	}
	defer dbg.Close()
	logger.WithFields(map[string]interface{}{"addr": dbgAddr}).Info("debugger listening")

	// Replication host over the websocket reference transport.
	ln, err := wstransport.Listen(wstransport.ListenerConfig{Addr: env("ECS_REPLICATION_ADDR", "127.0.0.1:9120")}, logger)
	if err != nil {
		logger.WithFields(map[string]interface{}{"error": err.Error()}).Fatal("replication listen failed")
	}
	defer ln.Close()
	host := replication.NewHost(w, replication.NewSpec(), cfg, m, logger)
	go func() { _ = host.Serve(ctx, ln) }()
	logger.WithFields(map[string]interface{}{"addr": ln.Addr()}).Info("replication host listening")

	// Drive the pipeline at ~60Hz until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case sig := <-sigCh:
			logger.WithFields(map[string]interface{}{"signal": sig.String()}).Info("shutting down")
			cancel()
			if err := runtime.DestroyWorld(wh); err != nil {
				logger.WithFields(map[string]interface{}{"error": err.Error()}).Warn("world teardown incomplete")
			}
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			runtime.Progress(ctx, wh, dt)
		}
	}
}

// seedScene populates a small scene: a camera, a wall of occluder geometry,
// and a grid of multimesh instances half-hidden behind it, so the culling
// and render systems have real work every tick.
func seedScene(logger *logging.Logger, w *ecsworld.World, occComps *occlusion.Components, renderComps *render.Components, backend *renderbackendtest.Recording) {
	fail := func(stage string, err error) {
		logger.WithFields(map[string]interface{}{"stage": stage, "error": err.Error()}).Fatal("seed scene failed")
	}

	camEntity, err := w.CreateEntity()
	if err != nil {
		fail("camera", err)
	}
	cam := occlusion.NewOriginCamera(90*math.Pi/180, 16.0/9.0, 0.1)
	if err := occComps.SetMainCamera(w, camEntity, cam); err != nil {
		fail("camera", err)
	}
	w.Singletons.WindowW = 320
	w.Singletons.WindowH = 180

	// A wall at z=-8 spanning the middle of the view.
	wall, err := w.CreateEntity()
	if err != nil {
		fail("occluder", err)
	}
	if err := w.Store.Attach(wall, occComps.Transform, occlusion.Identity()); err != nil {
		fail("occluder", err)
	}
	quad := []occlusion.Triangle{
		{V0: occlusion.Vec3{X: -4, Y: -3, Z: -8}, V1: occlusion.Vec3{X: 4, Y: -3, Z: -8}, V2: occlusion.Vec3{X: -4, Y: 3, Z: -8}},
		{V0: occlusion.Vec3{X: 4, Y: -3, Z: -8}, V1: occlusion.Vec3{X: 4, Y: 3, Z: -8}, V2: occlusion.Vec3{X: -4, Y: 3, Z: -8}},
	}
	if err := occComps.NewOccluder(w, wall, quad); err != nil {
		fail("occluder", err)
	}

	multimesh, err := backend.MultimeshCreate()
	if err != nil {
		fail("multimesh", err)
	}
	const gridSize = 64
	if err := backend.MultimeshAllocateData(multimesh, gridSize); err != nil {
		fail("multimesh", err)
	}

	local := occlusion.AABB{
		Min: occlusion.Vec3{X: -0.5, Y: -0.5, Z: -0.5},
		Max: occlusion.Vec3{X: 0.5, Y: 0.5, Z: 0.5},
	}
	for i := 0; i < gridSize; i++ {
		e, err := w.CreateEntity()
		if err != nil {
			fail("grid", err)
		}
		// Half the grid sits behind the wall, half in front of it.
		z := -12.0
		if i%2 == 0 {
			z = -4.0
		}
		xform := occlusion.Identity()
		xform[3] = float64(i%8) - 3.5
		xform[7] = float64(i/8) - 3.5
		xform[11] = z
		if err := w.Store.Attach(e, occComps.Transform, xform); err != nil {
			fail("grid", err)
		}
		if err := occComps.NewOccludee(w, e, local); err != nil {
			fail("grid", err)
		}
		if err := renderComps.NewMultimeshRenderable(w, e, multimesh, i); err != nil {
			fail("grid", err)
		}
	}
}
