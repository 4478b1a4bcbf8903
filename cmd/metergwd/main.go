package main

import (
	"bufio"
	"context"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"github.com/meterman/metergw/clock"
	"github.com/meterman/metergw/config"
	"github.com/meterman/metergw/gateway"
	"github.com/meterman/metergw/radio/serialmodem"
	"github.com/meterman/metergw/registry"
	"github.com/meterman/metergw/web"
)

const appName = "metergwd"

var (
	version = "no version from LDFLAGS"

	dbPath    = flag.String("dbPath", "metergw.db", "config DB path")
	hostPort  = flag.String("hostPort", "/dev/ttyAMA0", "serial device of the host link")
	hostBaud  = flag.Int("hostBaud", 115200, "host link baud rate")
	radioPort = flag.String("radioPort", "/dev/ttyUSB0", "serial device of the radio modem")
	radioBaud = flag.Int("radioBaud", 115200, "radio modem baud rate")
	cycleMs   = flag.Int("cycleMs", 100, "scheduling cycle interval in milliseconds")

	httpMetricsPort = flag.Int("httpMetricsPort", 8888, "http metrics port")
	httpAPIPort     = flag.Int("httpAPIPort", 9201, "http API port")

	httpServer        *http.Server
	httpMetricsServer *http.Server
)

func main() {
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	// Badger holds the persistent gateway config
	opts := badger.DefaultOptions(*dbPath)
	opts.Logger = nil
	opts.TableLoadingMode = options.FileIO

	bdb, err := badger.Open(opts)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open DB", "error", err, "path", *dbPath)
		os.Exit(2)
	}
	defer bdb.Close()

	store := config.NewStore(logger, bdb)
	cfg, err := store.Load()
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "error", err)
		os.Exit(2)
	}
	logger = level.NewFilter(logger, cfg.LevelOption())

	// host serial link
	hostLink, err := serial.Open(*hostPort, &serial.Mode{BaudRate: *hostBaud})
	if err != nil {
		level.Error(logger).Log("msg", "failed to open host serial port", "error", err, "port", *hostPort)
		os.Exit(2)
	}
	defer hostLink.Close()

	// radio modem
	modem, err := serialmodem.Open(logger, *radioPort, *radioBaud, registry.NodeID(cfg.GatewayID))
	if err != nil {
		level.Error(logger).Log("msg", "failed to open radio modem", "error", err, "port", *radioPort)
		os.Exit(2)
	}
	defer modem.Close()

	lines := make(chan string, 64)
	clk := clock.New(nil)
	gw := gateway.New(logger, &cfg, clk, modem, hostLink, lines,
		time.Duration(*cycleMs)*time.Millisecond)

	g, ctx := errgroup.WithContext(ctx)

	// host line reader
	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(hostLink)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		return scanner.Err()
	})

	// gateway core
	g.Go(func() error {
		return gw.Run(ctx)
	})

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server serving at :%d", *httpMetricsPort))

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// status API server
	g.Go(func() error {
		s := web.NewServer(appName, logger, gw.Registry(), gw.Clock(), &cfg)

		r := handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}))(s.Handler())

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler:      handlers.CompressHandler(r),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server serving at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	select {
	case <-interrupt:
		cancel()
		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	// unblock the line reader
	_ = hostLink.Close()

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}
