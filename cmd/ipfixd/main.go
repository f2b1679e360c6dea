// Command ipfixd wires the IPFIX core (package ipfix) to a concrete sink,
// registry backend, metrics exporter, and optional Kafka shipping. Reading
// datagrams off a UDP socket is an explicit external collaborator (spec's
// Non-goals); this binary instead consumes a stream of 4-byte-length-
// prefixed datagrams from a file or stdin, which is enough to drive and
// demonstrate the Sink contract end to end.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowlayer/ipfixcore/config"
	"github.com/flowlayer/ipfixcore/ipfix"
	"github.com/flowlayer/ipfixcore/memsink"
	"github.com/flowlayer/ipfixcore/metrics"
	"github.com/flowlayer/ipfixcore/transport"
	_ "github.com/flowlayer/ipfixcore/transport/kafka"
	"github.com/flowlayer/ipfixcore/utils"
	"github.com/flowlayer/ipfixcore/utils/debug"
)

var (
	version    = ""
	AppVersion = "ipfixd " + version

	inputPath = flag.String("input", "-", "Length-prefixed datagram stream to read (- for stdin)")
	sourceIP  = flag.String("source-ip", "127.0.0.1", "Exporter source IP attributed to every datagram read from -input")
	showVer   = flag.Bool("v", false, "Print version")
)

func main() {
	fs := flag.CommandLine
	cfg := config.BindFlags(fs)
	flag.Parse()

	if *showVer {
		fmt.Println(AppVersion)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintln(os.Stderr, "error parsing log level:", err)
		os.Exit(1)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	if cfg.LogFmt == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	var enabledExt map[ipfix.ExtensionID]bool
	if cfg.MappingFile != "" {
		f, err := os.Open(cfg.MappingFile)
		if err != nil {
			logger.Error("error opening mapping", "error", err)
			os.Exit(1)
		}
		mapping, err := config.LoadMapping(f)
		f.Close()
		if err != nil {
			logger.Error("error loading mapping", "error", err)
			os.Exit(1)
		}
		enabledExt = mapping.Compile()
	}

	registry, err := ipfix.NewRegistry(cfg.StateURL)
	if err != nil {
		logger.Error("error opening exporter registry", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	sink := memsink.New(cfg.MaxBlockSizeBytes, logger)

	var shipper *transport.Transport
	if cfg.Transport != "" {
		shipper, err = transport.FindTransport(cfg.Transport)
		if err != nil {
			logger.Error("error starting transport", "error", err)
			os.Exit(1)
		}
		defer shipper.Close()
	}

	wg := &sync.WaitGroup{}
	var ready bool

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/__health", func(w http.ResponseWriter, r *http.Request) {
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := http.Server{Addr: cfg.Addr, ReadHeaderTimeout: 5 * time.Second}
	if cfg.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var in io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.Error("error opening input", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}
	src := net.ParseIP(*sourceIP)

	missing := utils.NewMissingFlowsTracker(1000)
	mute := utils.NewBatchMute(cfg.ErrInt, cfg.ErrCnt)

	ready = true
	logger.Info("starting ipfixd")

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, in, src, registry, sink, cfg, enabledExt, shipper, missing, mute, logger)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	ready = false
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}
	cancel()
	wg.Wait()
	logger.Info("stopped ipfixd")
}

// runLoop reads length-prefixed datagrams from in until EOF or ctx is
// cancelled, decoding each through the core. When a transport is
// configured, the sink's block is flushed and shipped after every datagram
// that left records in it; without one the block is never flushed.
func runLoop(ctx context.Context, in io.Reader, src net.IP, registry *ipfix.Registry, sink *memsink.Sink, cfg *config.Config, enabledExt map[ipfix.ExtensionID]bool, shipper *transport.Transport, missing *utils.MissingFlowsTracker, mute *utils.BatchMute, logger *slog.Logger) {
	var lenBuf [4]byte
	exporterKey := src.String()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if _, err := io.ReadFull(in, lenBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("error reading datagram length", "error", err)
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(in, buf); err != nil {
			logger.Error("error reading datagram body", "error", err)
			return
		}

		start := time.Now()
		err := debug.WrapPanic(buf, func() error {
			return ipfix.ProcessPacket(buf, src, time.Now(), registry, sink, uint32(cfg.OverwriteSampling), uint32(cfg.DefaultSampling), enabledExt, logger)
		})
		metrics.ObserveDispatch(exporterKey, start)

		if err != nil {
			var pErrMsg *debug.PanicErrorMessage
			muted, skipped := mute.Increment()
			switch {
			case muted && skipped == 0:
				logger.Warn("too many decode errors, muting")
			case !muted && skipped > 0:
				logger.Warn("skipped decode errors", "count", skipped)
			case !muted && errors.As(err, &pErrMsg):
				logger.Error("intercepted panic", "message", pErrMsg.Msg, "stacktrace", string(pErrMsg.Stacktrace))
				metrics.DecodeErrors.WithLabelValues(exporterKey, "panic").Inc()
			case !muted:
				logger.Error("error decoding packet", "error", err)
				metrics.DecodeErrors.WithLabelValues(exporterKey, "protocol").Inc()
			}
			continue
		}

		if hdr, err := ipfix.PeekHeader(buf); err == nil {
			if lost := missing.CountMissing(exporterKey, hdr.SequenceNumber, 1); lost > 0 {
				metrics.MissingFlows.WithLabelValues(exporterKey, fmt.Sprint(hdr.ObservationDomainID)).Add(float64(lost))
			}
		}

		if sink.NumRecords() > 0 && shipper != nil {
			flushBlock(sink, shipper, exporterKey, logger)
		}
	}
}

func flushBlock(sink *memsink.Sink, shipper *transport.Transport, key string, logger *slog.Logger) {
	block := sink.Flush()
	for _, record := range block.Records {
		if err := shipper.Send([]byte(key), record); err != nil {
			logger.Error("error shipping record", "error", err)
			return
		}
	}
}
