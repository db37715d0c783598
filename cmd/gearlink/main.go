package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/nemanja-m/gearlink/internal/files"
	"github.com/nemanja-m/gearlink/internal/functions"
	"github.com/nemanja-m/gearlink/internal/shared/config"
	"github.com/nemanja-m/gearlink/internal/shared/logging"
	"github.com/nemanja-m/gearlink/internal/worker/core"
	"github.com/nemanja-m/gearlink/internal/worker/service"
	"github.com/nemanja-m/gearlink/pkg/engine"
	"github.com/nemanja-m/gearlink/pkg/engine/local"
	"github.com/nemanja-m/gearlink/pkg/gearlink"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config file")
		input       = flag.String("input", "", "comma separated input files glob patterns")
		output      = flag.String("output", "", "output directory (results go to stdout when empty)")
		function    = flag.String("function", "wordcount", "worker function to run on every input file")
		metricsAddr = flag.String("metrics-addr", ":2112", "address serving /metrics when metrics are enabled")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	if *input == "" {
		logger.Fatal("Input pattern must be specified using the -input flag")
	}
	if _, err := functions.Get(*function); err != nil {
		logger.Fatal("Unknown function", "function", *function, "available", functions.List())
	}
	if !slices.Contains(cfg.Worker.Functions, *function) {
		cfg.Worker.Functions = append(cfg.Worker.Functions, *function)
	}

	inputs, err := files.Find(strings.Split(*input, ",")...)
	if err != nil {
		logger.Fatal("Failed to find input files", "error", err)
	}
	if len(inputs) == 0 {
		logger.Fatal("No input files matched", "input", *input)
	}

	opts := []gearlink.Option{gearlink.WithLogger(logger)}
	var reg *prometheus.Registry
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		opts = append(opts, gearlink.WithMetrics(reg))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := &runner{
		cfg:      cfg,
		logger:   logger,
		engine:   local.New(),
		opts:     opts,
		function: *function,
		output:   *output,
	}

	logger.Info("Starting gearlink",
		"function", *function,
		"inputs", len(inputs),
		"workers", cfg.Worker.Concurrency,
	)

	failed, err := r.run(ctx, inputs, reg, *metricsAddr)
	if err != nil {
		logger.Fatal("Run failed", "error", err)
	}
	if failed > 0 {
		logger.Fatal("Some tasks failed", "failed", failed, "total", len(inputs))
	}
	logger.Info("All tasks completed", "total", len(inputs))
}

type runner struct {
	cfg      *config.Config
	logger   logging.Logger
	engine   engine.Engine
	opts     []gearlink.Option
	function string
	output   string
}

// run starts the worker services, submits one task per input and waits for
// every task to finish. It returns the number of failed tasks.
func (r *runner) run(ctx context.Context, inputs []string, reg *prometheus.Registry, metricsAddr string) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	workCtx, stopWorkers := context.WithCancel(gctx)
	defer stopWorkers()

	executor := service.NewFunctionExecutor(r.cfg.Worker.Functions, r.cfg.Worker.FunctionTimeout, r.logger)
	for range r.cfg.Worker.Concurrency {
		worker, err := r.newWorker(executor)
		if err != nil {
			return 0, err
		}
		svc := service.NewWorkerService(worker, r.logger)
		g.Go(func() error {
			defer worker.Close()
			return svc.Run(workCtx)
		})
	}

	if reg != nil {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-workCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	var failed int
	g.Go(func() error {
		defer stopWorkers()
		n, err := r.submit(workCtx, inputs)
		failed = n
		return err
	})

	if err := g.Wait(); err != nil {
		return failed, err
	}
	return failed, nil
}

func (r *runner) newWorker(executor core.FunctionBinder) (*gearlink.Worker, error) {
	worker, err := gearlink.NewWorker(r.engine, r.opts...)
	if err != nil {
		return nil, err
	}
	if err := worker.AddServers(r.cfg.Worker.Servers); err != nil {
		worker.Close()
		return nil, err
	}
	worker.SetTimeout(r.cfg.Worker.Timeout)
	if err := executor.Bind(worker); err != nil {
		worker.Close()
		return nil, err
	}
	return worker, nil
}

// submit adds one task per input file and runs the client until they all
// finish.
func (r *runner) submit(ctx context.Context, inputs []string) (int, error) {
	client, err := gearlink.NewClient(r.engine, r.opts...)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	if err := client.AddServers(r.cfg.Client.Servers); err != nil {
		return 0, err
	}
	client.SetTimeout(r.cfg.Client.Timeout)
	client.SetNonBlocking(r.cfg.Client.NonBlocking)

	results := make(map[string][]byte, len(inputs))
	failed := 0

	if err := client.SetStatusCallback(func(task *gearlink.Task) engine.Status {
		path, _ := task.Context()
		num, _ := task.Numerator()
		den, _ := task.Denominator()
		r.logger.Debug("Task progress", "input", path, "numerator", num, "denominator", den)
		return engine.StatusSuccess
	}); err != nil {
		return 0, err
	}
	if err := client.SetCompleteCallback(func(task *gearlink.Task) engine.Status {
		ctx, _ := task.Context()
		path, _ := ctx.(string)
		data, _ := task.TakeData()
		results[path] = data
		return engine.StatusSuccess
	}); err != nil {
		return 0, err
	}
	if err := client.SetExceptionCallback(func(task *gearlink.Task) engine.Status {
		path, _ := task.Context()
		data, _ := task.TakeData()
		r.logger.Warn("Task raised exception", "input", path, "exception", string(data))
		return engine.StatusSuccess
	}); err != nil {
		return 0, err
	}
	if err := client.SetFailCallback(func(task *gearlink.Task) engine.Status {
		path, _ := task.Context()
		r.logger.Error("Task failed", "input", path)
		failed++
		return engine.StatusSuccess
	}); err != nil {
		return 0, err
	}

	for _, path := range inputs {
		workload, err := files.ReadWorkload(path, 0)
		if err != nil {
			return 0, err
		}
		task, err := client.AddTask(r.function, workload,
			gearlink.WithUnique(path),
			gearlink.WithTaskContext(path),
		)
		if err != nil {
			return 0, fmt.Errorf("add task for %s: %w", path, err)
		}
		task.Release()
	}

	for {
		status, err := client.RunTasks()
		if err != nil {
			return failed, err
		}
		if status != engine.StatusIOWait {
			break
		}
		select {
		case <-ctx.Done():
			return failed, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	for _, path := range inputs {
		data, ok := results[path]
		if !ok {
			continue
		}
		if err := r.write(path, data); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

func (r *runner) write(path string, data []byte) error {
	if r.output == "" {
		_, err := fmt.Fprintf(os.Stdout, "== %s ==\n%s\n", path, data)
		return err
	}
	if err := os.MkdirAll(r.output, 0o755); err != nil {
		return err
	}
	name := filepath.Join(r.output, filepath.Base(path)+".out")
	return os.WriteFile(name, data, 0o644)
}
