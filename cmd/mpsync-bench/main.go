// Package main implements mpsync-bench, a contention harness for the mpsync
// primitives.
//
// Every scenario hammers one primitive from many workers and then checks the
// state it left behind: counters guarded by a lock must not lose updates,
// ticket holders must enter in issue order, seqlock readers must never see a
// torn value, and the SPSC queue must deliver its stream in order.
//
// Usage:
//
//	mpsync-bench                                 # run every scenario with defaults
//	mpsync-bench -scenario counter/ttas,spsc     # run a subset
//	mpsync-bench -config bench.toml -pin         # load a config, pin workers to CPUs
//	mpsync-bench -metrics-addr :9100 -hold       # serve /metrics until interrupted
//	mpsync-bench -list                           # print the scenario names
//
// The exit status is 1 if any scenario fails verification or aborts and 2
// for usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aradilov/mpsync/internal/harness"
)

const version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	config      string
	scenarios   string
	threads     int
	iterations  int
	pin         bool
	metricsAddr string
	hold        bool
	logLevel    string
	json        bool
	list        bool
	version     bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("mpsync-bench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.config, "config", "", "TOML config file (defaults are used when empty)")
	fs.StringVar(&o.scenarios, "scenario", "", "comma-separated scenarios to run (all when empty)")
	fs.IntVar(&o.threads, "threads", 0, "override the number of contending workers")
	fs.IntVar(&o.iterations, "iterations", 0, "override the critical sections per worker")
	fs.BoolVar(&o.pin, "pin", false, "pin each worker to its own CPU")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&o.hold, "hold", false, "keep serving metrics after the run until interrupted")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	fs.BoolVar(&o.json, "json", false, "log JSON instead of console output")
	fs.BoolVar(&o.list, "list", false, "list scenarios and exit")
	fs.BoolVar(&o.version, "version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return o, nil
}

func newLogger(o options, stderr io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return zerolog.Nop(), err
	}
	var w io.Writer = stderr
	if !o.json {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

func loadConfig(o options) (harness.Config, error) {
	cfg := harness.DefaultConfig()
	if o.config != "" {
		var err error
		if cfg, err = harness.LoadConfig(o.config); err != nil {
			return cfg, err
		}
	}
	if o.scenarios != "" {
		cfg.Scenarios = strings.Split(o.scenarios, ",")
	}
	if o.threads > 0 {
		cfg.Threads = o.threads
		cfg.Ticket.Threads = o.threads
	}
	if o.iterations > 0 {
		cfg.Iterations = o.iterations
	}
	if o.pin {
		cfg.PinThreads = true
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	switch {
	case o.version:
		fmt.Fprintf(stdout, "mpsync-bench version %s\n", version)
		return 0
	case o.list:
		for _, name := range harness.AllScenarios() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}

	log, err := newLogger(o, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	cfg, err := loadConfig(o)
	if err != nil {
		log.Error().Err(err).Msg("bad configuration")
		return 2
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	runner, err := harness.NewRunner(cfg, harness.WithLogger(log), harness.WithRegistry(reg))
	if err != nil {
		log.Error().Err(err).Msg("cannot start runner")
		return 1
	}
	defer runner.Close()

	var ln net.Listener
	if o.metricsAddr != "" {
		if ln, err = net.Listen("tcp", o.metricsAddr); err != nil {
			log.Error().Err(err).Msg("cannot listen for metrics")
			return 2
		}
		log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	}

	results, err := serve(ctx, runner, ln, o.hold, log)
	printResults(stdout, results)
	switch {
	case errors.Is(err, harness.ErrVerify):
		log.Error().Err(err).Msg("verification failed")
		return 1
	case err != nil:
		log.Error().Err(err).Msg("run aborted")
		return 1
	}
	return 0
}

// serve runs the scenarios while exposing the registry on ln, if any. With
// hold set, the metrics stay up after the run until ctx is done.
func serve(ctx context.Context, runner *harness.Runner, ln net.Listener, hold bool, log zerolog.Logger) ([]harness.Result, error) {
	if ln == nil {
		return runner.Run(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(runner.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	var results []harness.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		var err error
		results, err = runner.Run(gctx)
		if hold && (err == nil || errors.Is(err, harness.ErrVerify)) {
			log.Info().Msg("run finished, holding metrics until interrupted")
			<-gctx.Done()
		}
		return err
	})
	return results, g.Wait()
}

func printResults(w io.Writer, results []harness.Result) {
	if len(results) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "scenario\tworkers\tops\telapsed\tops/s\tfastest\tslowest\tverified\t")
	for _, r := range results {
		verified := "ok"
		if r.Failure != nil {
			verified = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%v\t%.0f\t%v\t%v\t%s\t\n",
			r.Scenario, r.Workers, r.Ops, r.Elapsed.Round(time.Microsecond), r.OpsPerSecond(),
			r.Fastest.Round(time.Microsecond), r.Slowest.Round(time.Microsecond), verified)
	}
	_ = tw.Flush()
}
