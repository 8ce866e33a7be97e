package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/idossha/TI-Toolbox-sub001/internal/config"
	"github.com/idossha/TI-Toolbox-sub001/internal/leadfield"
	"github.com/idossha/TI-Toolbox-sub001/internal/logging"
	"github.com/idossha/TI-Toolbox-sub001/internal/metrics"
	"github.com/idossha/TI-Toolbox-sub001/internal/montage"
	"github.com/idossha/TI-Toolbox-sub001/internal/pareto"
	"github.com/idossha/TI-Toolbox-sub001/internal/results"
	"github.com/idossha/TI-Toolbox-sub001/internal/search"
	"github.com/idossha/TI-Toolbox-sub001/internal/server"
	"github.com/idossha/TI-Toolbox-sub001/internal/target"
)

func main() {
	var (
		serve      = flag.Bool("serve", false, "run the HTTP service instead of a one-shot optimization")
		paretoMode = flag.Bool("pareto", false, "run the multi-solution Pareto search")
		preset     = flag.String("preset", "", "named target preset")
		coordFlag  = flag.String("coord", "", "explicit target coordinate, e.g. -30.0,-20.0,-14.0")
		radius     = flag.Float64("radius", 5.0, "target radius in millimeters")
		method     = flag.String("method", string(search.DifferentialEvolution), "single-objective method")
		maxIter    = flag.Int("iterations", 100, "iteration budget")
		popSize    = flag.Int("population", 20, "population size for differential evolution")
		solutions  = flag.Int("solutions", 10, "number of Pareto solutions")
		cores      = flag.Int("cores", 0, "worker count, 0 = available cores minus one")
		seed       = flag.Int64("seed", 0, "random seed, 0 = time-based")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	serviceLogger := logger.WithFields(map[string]interface{}{
		"service": "ti-optimizer",
	})

	if cfg.Leadfield.Manifest == "" {
		serviceLogger.Fatal("LEADFIELD_MANIFEST is required")
	}
	model, err := leadfield.Load(cfg.Leadfield.Manifest)
	if err != nil {
		serviceLogger.Fatal("Failed to load leadfield", map[string]interface{}{"error": err.Error()})
	}
	serviceLogger.Info("Leadfield loaded", map[string]interface{}{
		"electrodes": model.NumElectrodes(),
		"voxels":     model.NumVoxels(),
	})

	var presets target.Presets
	if cfg.Leadfield.Presets != "" {
		presets, err = target.LoadPresets(cfg.Leadfield.Presets)
		if err != nil {
			serviceLogger.Fatal("Failed to load target presets", map[string]interface{}{"error": err.Error()})
		}
	}

	var labels []string
	if cfg.Leadfield.Labels != "" {
		labels, err = loadLabels(cfg.Leadfield.Labels)
		if err != nil {
			serviceLogger.Fatal("Failed to load electrode labels", map[string]interface{}{"error": err.Error()})
		}
	}

	store := results.NewStore(cfg.Database.DSN)
	if err := store.Init(context.Background()); err != nil {
		serviceLogger.Fatal("Failed to open results store", map[string]interface{}{"error": err.Error()})
	}
	defer store.Close()

	if *serve {
		runServer(cfg, logger, serviceLogger, server.Options{
			Model:   model,
			Presets: presets,
			Labels:  labels,
			Store:   store,
			Metrics: metrics.New(nil),
		})
		return
	}

	spec, err := resolveTarget(presets, *preset, *coordFlag, *radius)
	if err != nil {
		serviceLogger.Fatal("Invalid target", map[string]interface{}{"error": err.Error()})
	}

	// Cancel the run on SIGINT so the pool tears down cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ev := montage.NewEvaluator(model)
	if err := ev.SetTarget(spec); err != nil {
		serviceLogger.Fatal("Target selection failed", map[string]interface{}{"error": err.Error()})
	}
	serviceLogger.Info("Target resolved", map[string]interface{}{
		"roi_voxels": len(ev.ROI()),
		"radius_mm":  spec.Radius,
	})

	if *paretoMode {
		ps := pareto.NewSearch(ev)
		ps.Progress = serviceLogger.Progress()
		ps.Seed = *seed
		ps.EvalSecondsPer10kVoxels = cfg.Optimization.EvalSecondsPer10kVoxels
		ps.TimeoutFloor = cfg.Optimization.TimeoutFloor
		ps.TimeoutCeiling = cfg.Optimization.TimeoutCeiling

		nCores := *cores
		if nCores == 0 {
			nCores = cfg.Optimization.WorkerCount
		}

		sols, stats, err := ps.Generate(ctx, *solutions, *maxIter, nCores)
		if err != nil {
			serviceLogger.Fatal("Pareto generation failed", map[string]interface{}{"error": err.Error()})
		}
		if len(sols) > 0 {
			if id, err := store.SaveSolutions(context.Background(), spec, sols); err == nil {
				serviceLogger.Info("Solutions persisted", map[string]interface{}{"run_id": id})
			}
		}
		printJSON(map[string]interface{}{
			"solutions": renderSolutions(sols, labels),
			"stats":     stats,
		})
		return
	}

	runner := search.NewRunner(ev)
	run, err := runner.Run(ctx, search.Options{
		Target:         spec,
		Method:         search.Method(*method),
		MaxIterations:  *maxIter,
		PopulationSize: *popSize,
		Seed:           *seed,
		Progress:       serviceLogger.Progress(),
	})
	if err != nil {
		serviceLogger.Fatal("Optimization failed", map[string]interface{}{"error": err.Error()})
	}
	if id, err := store.SaveRun(context.Background(), spec, run); err == nil {
		serviceLogger.Info("Run persisted", map[string]interface{}{"run_id": id})
	}
	printJSON(renderRun(run, labels))
}

// runServer starts the HTTP surface with graceful shutdown, mirroring the
// one-shot path's collaborators.
func runServer(cfg *config.Config, logger *logging.Logger, serviceLogger *logging.Logger, opts server.Options) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.Middleware(logger))
	r.Use(server.RecoveryMiddleware(serviceLogger))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	// Scrape errors go through the shared logger via the zap bridge.
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(logging.NewZapLogger(logger)),
	}))

	srv := server.NewServer(cfg, serviceLogger, opts)
	srv.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		serviceLogger.Info("Starting server", map[string]interface{}{"address": httpServer.Addr})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serviceLogger.Fatal("Failed to start server", map[string]interface{}{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	serviceLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		serviceLogger.Error("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := srv.Close(); err != nil {
		serviceLogger.Error("Error closing server resources", map[string]interface{}{"error": err.Error()})
	}
	serviceLogger.Info("Server stopped")
}

// resolveTarget turns the CLI flags into a target spec.
func resolveTarget(presets target.Presets, preset, coordFlag string, radius float64) (target.Spec, error) {
	spec := target.Spec{Radius: radius}
	switch {
	case preset != "":
		coord, err := presets.Resolve(preset)
		if err != nil {
			return spec, err
		}
		spec.Coord = coord
	case coordFlag != "":
		parts := strings.Split(coordFlag, ",")
		if len(parts) != 3 {
			return spec, fmt.Errorf("coord needs 3 comma-separated values, got %q", coordFlag)
		}
		for i, p := range parts {
			if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &spec.Coord[i]); err != nil {
				return spec, fmt.Errorf("bad coordinate %q: %w", p, err)
			}
		}
	default:
		return spec, fmt.Errorf("either -preset or -coord is required")
	}
	return spec, nil
}

// loadLabels reads one electrode label per line.
func loadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	return labels, scanner.Err()
}

func renderRun(run *search.Run, labels []string) map[string]interface{} {
	out := map[string]interface{}{
		"electrodes":     run.Electrodes,
		"current_ratio":  run.CurrentRatio,
		"field_strength": run.FieldStrength,
		"method":         run.Method,
		"evaluations":    run.Evaluations,
		"success":        run.Success,
	}
	if names := labelNames(run.Electrodes, labels); names != nil {
		out["electrode_labels"] = names
	}
	return out
}

func renderSolutions(solutions []pareto.Solution, labels []string) []map[string]interface{} {
	out := make([]map[string]interface{}, len(solutions))
	for i, sol := range solutions {
		entry := map[string]interface{}{
			"solution_index":  sol.SolutionIndex,
			"electrodes":      sol.Electrodes,
			"current_ratio":   sol.CurrentRatio,
			"intensity_field": sol.IntensityField,
			"focality":        sol.Focality,
			"improvements":    sol.Improvements,
			"elapsed_seconds": sol.Elapsed.Seconds(),
		}
		if names := labelNames(sol.Electrodes, labels); names != nil {
			entry["electrode_labels"] = names
		}
		out[i] = entry
	}
	return out
}

func labelNames(electrodes [4]int, labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 4)
	for i, e := range electrodes {
		if e < len(labels) {
			names[i] = labels[e]
		} else {
			names[i] = fmt.Sprintf("E%d", e)
		}
	}
	return names
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
