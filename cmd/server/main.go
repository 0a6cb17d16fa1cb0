package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/PrunesLand/pingwheel-server/internal/api"
	"github.com/PrunesLand/pingwheel-server/internal/config"
	"github.com/PrunesLand/pingwheel-server/internal/ping"
	"github.com/PrunesLand/pingwheel-server/internal/serial"
	"github.com/PrunesLand/pingwheel-server/internal/settings"
)

func main() {
	flag.Parse()
	slog.SetLogLoggerLevel(levelFlag.value)
	fmt.Println("📍 Ping Server Starting...")

	cfg, err := config.Load(*envFileFlag)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
		})
	}

	// 0. Initialize Settings, Tracker & API
	appSettings := settings.New()
	slog.Info("Settings initialized", "settings", appSettings)
	tracker := ping.NewTracker(appSettings, cfg.Observer)
	hub := api.NewHub()

	// 1. Select Port
	selectedPort := selectPort(cfg)
	if selectedPort == serial.PortMock {
		fmt.Println("⚠️ Using MOCK MODE.")
	} else {
		fmt.Printf("✅ Selected Port: %s\n", selectedPort)
	}

	// Cancel everything on Ctrl+C
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// 2. Start Connection
	device := serial.New(selectedPort, cfg.BaudRate)
	fmt.Printf("Connecting to %s at %d baud...\n", selectedPort, cfg.BaudRate)
	if err := device.Start(ctx); err != nil {
		log.Fatalf("Failed to start device: %v", err)
	}

	srv := api.New(appSettings, tracker, device, hub)
	srv.Username = cfg.Username

	// 3. Receive Pings
	fmt.Println("Listening for pings... (Press Ctrl+C to stop)")
	g.Go(func() error {
		return api.StartServer(ctx, cfg.Addr, srv.Handler())
	})
	g.Go(func() error {
		tracker.Run(ctx)
		return nil
	})
	g.Go(func() error {
		for payload := range device.DataStream {
			pkt, err := ping.Decode(payload)
			if err != nil {
				slog.Warn("Invalid ping packet", "size", len(payload), "error", err)
				continue
			}
			p, ok := tracker.Receive(pkt)
			if !ok {
				continue
			}
			v := tracker.View(p)
			slog.Info("Ping received", "username", v.Username, "channel", v.Channel, "distance", v.Label)
			hub.Broadcast(v)
		}
		slog.Info("Data stream closed")
		if ctx.Err() == nil {
			return errors.New("serial link closed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	fmt.Println("Server stopped.")
}

// selectPort returns the configured port, the first preferred port or the mock port.
func selectPort(cfg config.Config) string {
	if len(flag.Args()) > 0 && flag.Arg(0) == "mock" {
		return serial.PortMock
	}
	if cfg.SerialPort != "" {
		return cfg.SerialPort
	}
	ports, err := serial.ListPorts()
	if err != nil {
		slog.Warn("Failed to list ports", "error", err)
		return serial.PortMock
	}
	fmt.Println("Available Ports:")
	for i, p := range ports {
		fmt.Printf(" [%d] %s\n", i, p)
	}
	if p := serial.FindPreferredPort(ports); p != "" {
		return p
	}
	fmt.Println("⚠️ No 'usbmodem' or 'usbserial' found.")
	return serial.PortMock
}
