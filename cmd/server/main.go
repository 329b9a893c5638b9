package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/time/rate"

	persistlog "kiddoverse.ai/internal/persistence/log"
	"kiddoverse.ai/internal/sim/catalogs"
	"kiddoverse.ai/internal/sim/tuning"
	"kiddoverse.ai/internal/sim/world"
	"kiddoverse.ai/internal/transport/viewer"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "world_1", "world id")
		theme      = flag.String("theme", "DEFAULT", "theme name from themes.yaml")
		seed       = flag.Int64("seed", 1337, "terrain seed")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (frames + chunk events + catalogs)")
		logFrames  = flag.Bool("log_frames", true, "write frame and chunk logs under <data>/worlds/<world>")

		editLoopback = flag.Bool("viewer_edit_loopback", false, "accept viewer edits only from loopback peers")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}
	if missing := cats.MissingTextures(); len(missing) > 0 {
		logger.Printf("textures missing from catalog (fallback material): %s", strings.Join(missing, ","))
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
		tune.Normalize()
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	_ = os.MkdirAll(worldDir, 0o755)

	// Optional read-model index; never feeds back into the world.
	idx, err := openRuntimeIndex(worldDir, *worldID, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
	}

	cfg := world.ConfigFromTuning(tune, *theme, *seed)
	cfg.ID = *worldID
	cfg.Logger = log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	w, err := world.New(cfg, cats, nil)
	if err != nil {
		logger.Fatalf("world: %v", err)
	}

	var (
		frameLog world.FrameLogger
		chunkLog world.ChunkLogger
		fl       *persistlog.FrameLogger
		cl       *persistlog.ChunkLogger
	)
	if *logFrames {
		fl = persistlog.NewFrameLogger(worldDir)
		cl = persistlog.NewChunkLogger(worldDir)
		frameLog, chunkLog = fl, cl
	}
	w.SetFrameLogger(multiFrameLogger{a: frameLog, b: idx})
	w.SetChunkLogger(multiChunkLogger{a: chunkLog, b: idx})

	spawn := spawnPoint(w)
	viewerSrv := viewer.NewServer(w, cats, viewer.Config{
		EditRate:         rate.Limit(tune.ViewerEditRate),
		EditBurst:        tune.ViewerEditBurst,
		ChunksPerSecond:  int(tune.ViewerChunksPerSecond),
		EditLoopbackOnly: *editLoopback,
	}, spawn, logger)

	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	if err := w.LoadAround(ctx, spawn); err != nil {
		logger.Fatalf("initial load: %v", err)
	}
	logger.Printf("world=%s theme=%s seed=%d resident=%d in %s",
		w.ID(), w.Theme().Name, *seed, len(w.ResidentChunks()), time.Since(start).Round(time.Millisecond))

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := w.Run(ctx, viewerSrv); err != nil && err != context.Canceled {
			logger.Printf("world stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, *worldID, w.Metrics(), viewerSrv.Viewers())
	})
	mux.HandleFunc("/viewer/v1/bootstrap", viewerSrv.BootstrapHandler())
	mux.HandleFunc("/viewer/v1/ws", viewerSrv.WSHandler())

	enableAdminHTTP := envBool("KV_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("KV_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			resp := struct {
				WorldID string             `json:"world_id"`
				Metrics world.WorldMetrics `json:"metrics"`
				Viewers int                `json:"viewers"`
				Chunks  []world.ChunkInfo  `json:"chunks"`
			}{
				WorldID: *worldID,
				Metrics: w.Metrics(),
				Viewers: viewerSrv.Viewers(),
				Chunks:  w.ResidentChunks(),
			}
			_ = json.NewEncoder(rw).Encode(resp)
		})
	} else {
		logger.Printf("admin endpoints disabled (KV_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (KV_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Printf("ListenAndServe: %v", err)
	}

	// The frame loop and every in-flight edit must stop before the loggers
	// they write to are closed.
	cancel()
	<-runDone
	w.Close()
	if fl != nil {
		if err := fl.Close(); err != nil {
			logger.Printf("close frame log: %v", err)
		}
	}
	if cl != nil {
		if err := cl.Close(); err != nil {
			logger.Printf("close chunk log: %v", err)
		}
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			logger.Printf("close index: %v", err)
		}
	}
	logger.Printf("stopped")
}

// spawnPoint is two blocks above the terrain surface at the center of
// chunk (0, *, 0).
func spawnPoint(w *world.World) mgl32.Vec3 {
	cfg := w.Config()
	mid := cfg.ChunkSize / 2
	top := w.Generator().SurfaceHeight(mid, mid)
	bs := float32(cfg.BlockSize)
	return mgl32.Vec3{(float32(mid) + 0.5) * bs, float32(top+2) * bs, (float32(mid) + 0.5) * bs}
}

func writeMetrics(rw http.ResponseWriter, worldID string, m world.WorldMetrics, viewers int) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP kiddoverse_world_frame Current frame number.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_world_frame gauge\n")
	fmt.Fprintf(rw, "kiddoverse_world_frame{world=%q} %d\n", worldID, m.Frame)

	fmt.Fprintf(rw, "# HELP kiddoverse_world_chunks Chunk population by state.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_world_chunks gauge\n")
	fmt.Fprintf(rw, "kiddoverse_world_chunks{world=%q,state=%q} %d\n", worldID, "resident", m.Resident)
	fmt.Fprintf(rw, "kiddoverse_world_chunks{world=%q,state=%q} %d\n", worldID, "dirty", m.Dirty)
	fmt.Fprintf(rw, "kiddoverse_world_chunks{world=%q,state=%q} %d\n", worldID, "meshed", m.Meshed)

	fmt.Fprintf(rw, "# HELP kiddoverse_world_materials Materials in the shared cache.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_world_materials gauge\n")
	fmt.Fprintf(rw, "kiddoverse_world_materials{world=%q} %d\n", worldID, m.Materials)

	fmt.Fprintf(rw, "# HELP kiddoverse_world_chunk_ops_total Chunk lifecycle operations.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_world_chunk_ops_total counter\n")
	fmt.Fprintf(rw, "kiddoverse_world_chunk_ops_total{world=%q,op=%q} %d\n", worldID, "generated", m.GeneratedTotal)
	fmt.Fprintf(rw, "kiddoverse_world_chunk_ops_total{world=%q,op=%q} %d\n", worldID, "evicted", m.EvictedTotal)
	fmt.Fprintf(rw, "kiddoverse_world_chunk_ops_total{world=%q,op=%q} %d\n", worldID, "rebuilt", m.RebuildsTotal)
	fmt.Fprintf(rw, "kiddoverse_world_chunk_ops_total{world=%q,op=%q} %d\n", worldID, "edited", m.EditsTotal)

	fmt.Fprintf(rw, "# HELP kiddoverse_world_step_ms Last frame duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_world_step_ms gauge\n")
	fmt.Fprintf(rw, "kiddoverse_world_step_ms{world=%q} %.3f\n", worldID, m.StepMS)

	fmt.Fprintf(rw, "# HELP kiddoverse_viewers Connected viewer sessions.\n")
	fmt.Fprintf(rw, "# TYPE kiddoverse_viewers gauge\n")
	fmt.Fprintf(rw, "kiddoverse_viewers{world=%q} %d\n", worldID, viewers)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

type multiFrameLogger struct {
	a world.FrameLogger
	b world.FrameLogger
}

func (m multiFrameLogger) WriteFrame(entry world.FrameLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteFrame(entry)
	}
	if m.b != nil {
		_ = m.b.WriteFrame(entry)
	}
	return nil
}

type multiChunkLogger struct {
	a world.ChunkLogger
	b world.ChunkLogger
}

func (m multiChunkLogger) WriteChunkEvent(ev world.ChunkEvent) error {
	if m.a != nil {
		_ = m.a.WriteChunkEvent(ev)
	}
	if m.b != nil {
		_ = m.b.WriteChunkEvent(ev)
	}
	return nil
}
