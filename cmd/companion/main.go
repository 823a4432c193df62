package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/neurocare/go-companion/internal/config"
	"github.com/neurocare/go-companion/internal/log"
	"github.com/neurocare/go-companion/pkg/audio"
	"github.com/neurocare/go-companion/pkg/capture"
	"github.com/neurocare/go-companion/pkg/carectx"
	"github.com/neurocare/go-companion/pkg/playback"
	"github.com/neurocare/go-companion/pkg/respond"
	"github.com/neurocare/go-companion/pkg/telemetry"
	"github.com/neurocare/go-companion/pkg/vad"
	"github.com/neurocare/go-companion/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "", "Override log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Init("info")
		log.L().Error("config load failed", "error", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	store := telemetry.NewStore()
	contextStore := carectx.NewStore(carectx.Context{
		Patient: carectx.Patient{Name: cfg.Patient},
	})

	tm := telemetry.NewManager(cfg.Telemetry, cfg.Endpoints, store, logger)

	player := playback.NewManager(cfg.Playback, logger)

	services := respond.NewClient(cfg.Endpoints, logger)
	pipeline := respond.NewPipeline(cfg.Respond, cfg.Patient, services, store, player, logger)

	segmenter := vad.New(cfg.VAD, pipeline.HandleUtterance, logger,
		vad.WithPlaybackGate(player.Speaking))

	device, err := capture.NewDevice(cfg.Audio, logger)
	if err != nil {
		logger.Error("audio device init failed", "error", err)
		os.Exit(1)
	}

	engine := capture.NewEngine(cfg.Audio, device, func(f audio.Frame) {
		segmenter.HandleFrame(f)
		tm.SendFrame(f)
	}, logger)

	// Half-duplex: captured audio is dropped while the reply plays so
	// the segmenter never hears the speaker.
	player.OnPlaybackStart = func() {
		engine.Suspend()
		segmenter.Reset()
	}
	player.OnPlaybackEnd = engine.Resume

	tm.OnFusion = pipeline.HandleFusion

	tm.Start()
	player.Start()
	segmenter.StartWatchdog()

	if err := engine.Start(ctx); err != nil {
		logger.Error("capture start failed", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg.WebAddr, func() any {
		return statusDoc{
			Session:   pipeline.Session(),
			Capture:   engine.Stats(),
			Telemetry: tm.Stats(),
			Playback:  player.Stats(),
			Respond:   pipeline.Stats(),
		}
	}, contextStore, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("diagnostics server stopped", "error", err)
		}
	}()

	logger.Info("companion running",
		"patient", cfg.Patient,
		"web", cfg.WebAddr,
		"device", engine.Stats().Backend)

	<-ctx.Done()

	if err := engine.Stop(); err != nil {
		logger.Warn("capture stop", "error", err)
	}
	segmenter.Stop()
	player.Stop()
	tm.Stop()
	if err := server.Shutdown(); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
}

type statusDoc struct {
	Session   string                            `json:"session"`
	Capture   capture.Stats                     `json:"capture"`
	Telemetry map[string]telemetry.ChannelStats `json:"telemetry"`
	Playback  playback.Stats                    `json:"playback"`
	Respond   respond.Stats                     `json:"respond"`
}
