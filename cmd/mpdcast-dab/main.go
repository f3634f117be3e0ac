// SPDX-License-Identifier: GPL-3.0-only

// Command mpdcast-dab runs the DAB+ radio HTTP server and the MPD cast
// bridge in one process. Either subsystem may be unavailable (no receiver
// hardware, unusable MPD configuration); the process only exits when both
// are.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lamarqe/mpdcast-dab/internal/api"
	"github.com/Lamarqe/mpdcast-dab/internal/cast"
	"github.com/Lamarqe/mpdcast-dab/internal/config"
	"github.com/Lamarqe/mpdcast-dab/internal/dab"
	"github.com/Lamarqe/mpdcast-dab/internal/dab/welle"
	xlog "github.com/Lamarqe/mpdcast-dab/internal/log"
)

const shutdownTimeout = 5 * time.Second

// localIPv4 returns the first routable IPv4 address of this host. Link-local
// and loopback addresses cannot be reached by a cast device, so they are
// skipped.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		return ip.String()
	}
	return ""
}

// dabSubsystem bundles everything that exists only when receiver hardware
// was found.
type dabSubsystem struct {
	dev     *dab.Device
	radio   *dab.RadioController
	scanner *dab.Scanner
}

func (s *dabSubsystem) stop() {
	s.scanner.Stop()
	s.scanner.Wait()
	s.radio.Stop()
	_ = s.dev.Close()
}

func main() {
	port := flag.Int("port", 8864, "communication port to use")
	confPath := flag.String("conf", "/etc/mpd.conf", "MPD config file to use")
	disableDAB := flag.Bool("disable-dabserver", false, "disable DAB server functionality")
	disableCast := flag.Bool("disable-mpdcast", false, "disable MPD cast functionality")
	verbose := flag.Bool("verbose", false, "enable verbose output")
	flag.Parse()

	level := "warn"
	if *verbose {
		level = "info"
	}
	xlog.Configure(xlog.Config{Level: level, Service: "mpdcast-dab"})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	myIP := localIPv4()
	if myIP == "" {
		logger.Warn().Str("event", "startup.no_ipv4").Msg("could not retrieve local IP address, disabling cast")
		// The cast device needs a reachable address; the DAB playlist
		// falls back to loopback URLs.
		*disableCast = true
		myIP = "127.0.0.1"
	}
	baseURL := fmt.Sprintf("http://%s:%d", myIP, *port)

	dabSys := prepareDAB(*disableDAB)
	bridge, images := prepareCast(*disableCast, *confPath, baseURL, myIP)

	if dabSys == nil && bridge == nil {
		logger.Error().Str("event", "startup.failed").Msg("both MPD cast and DAB processing failed to initialize")
		os.Exit(1)
	}

	var radio *dab.RadioController
	var scanner *dab.Scanner
	if dabSys != nil {
		radio = dabSys.radio
		scanner = dabSys.scanner
	}
	apiSrv := api.New(radio, scanner, images, baseURL)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           apiSrv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		logger.Error().Err(err).Str("event", "startup.bind_failed").Str("addr", srv.Addr).Msg("could not set up web server")
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error {
			err := bridge.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	logger.Info().Str("event", "startup.ready").Str("url", baseURL).Msg("successfully initialized MpdCast DAB")

	<-gctx.Done()

	// Shutdown: refuse new audio requests first, then tear down the tuner
	// so in-flight streams end, then drain the HTTP server.
	apiSrv.BeginShutdown()
	if dabSys != nil {
		dabSys.stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Str("event", "shutdown.error").Msg("stopped with error")
		os.Exit(1)
	}
	logger.Info().Str("event", "shutdown.complete").Msg("stopping MpdCast DAB as requested")
}

// prepareDAB opens the receiver hardware. A missing device is not fatal;
// the server runs cast-only.
func prepareDAB(disabled bool) *dabSubsystem {
	logger := xlog.WithComponent("main")
	if disabled {
		logger.Warn().Str("event", "dab.disabled").Msg("disabling DAB server functionality")
		return nil
	}
	dev, err := dab.OpenWith(func(sink dab.Sink) (dab.Driver, error) {
		return welle.Open("auto", -1, sink)
	})
	if err != nil {
		logger.Warn().Err(err).Str("event", "dab.unavailable").Msg("failed to load DAB+ library")
		return nil
	}
	return &dabSubsystem{
		dev:     dev,
		radio:   dab.NewRadioController(dev),
		scanner: dab.NewScanner(dev),
	}
}

// prepareCast parses the MPD configuration and wires the cast bridge. A
// broken configuration is not fatal; the server runs DAB-only.
func prepareCast(disabled bool, confPath, baseURL, myIP string) (*cast.Bridge, *api.ImageStore) {
	logger := xlog.WithComponent("main")
	if disabled {
		logger.Warn().Str("event", "cast.disabled").Msg("disabling MPD cast functionality")
		return nil, nil
	}
	conf, err := config.Load(confPath)
	if err != nil {
		logger.Warn().Err(err).Str("event", "cast.config_failed").Str("path", confPath).Msg("MPD cast disabled")
		return nil, nil
	}
	images := api.NewImageStore(baseURL)
	mpdAddr := fmt.Sprintf("localhost:%d", conf.Port)
	streamURL := fmt.Sprintf("http://%s:%d/", myIP, conf.StreamPort)
	return cast.NewBridge(*conf, mpdAddr, baseURL, streamURL, images), images
}
