package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/dotcompanion/pkg/bus"
	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/conversation"
	"github.com/dotsetgreg/dotcompanion/pkg/dialogue"
	"github.com/dotsetgreg/dotcompanion/pkg/display"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
	"github.com/dotsetgreg/dotcompanion/pkg/perception"
	"github.com/dotsetgreg/dotcompanion/pkg/providers"
	"github.com/dotsetgreg/dotcompanion/pkg/sensors"
	"github.com/dotsetgreg/dotcompanion/pkg/speech"
	"github.com/dotsetgreg/dotcompanion/pkg/tools"
)

const shutdownTimeout = 5 * time.Second

// runCompanion acquires every device-facing resource, then runs perception,
// speech recognition, the orchestrator and the display until the user quits
// or a signal arrives. Acquisition failures are returned after releasing
// whatever was already opened.
func runCompanion(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orchOpts, err := conversation.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	m := metrics.New(appName)

	vision := sensors.NewVisionClient(cfg.Sensors)
	if err := vision.Ping(ctx); err != nil {
		return fmt.Errorf("vision sidecar unavailable: %w", err)
	}

	identities, err := openFaces(cfg)
	if err != nil {
		return err
	}

	mem, err := openMemory(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := mem.Close(); err != nil {
			logger.WarnCF("runtime", "Closing memory failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	if err := provider.Ping(ctx); err != nil {
		logger.WarnCF("runtime", "Inference server not reachable yet", map[string]interface{}{
			"api_base": cfg.Provider.APIBase,
			"error":    err.Error(),
		})
	}

	displayEngine := display.NewEngine(newRenderer(cfg.Display), display.NewEmotionMapper(cfg.Display.Emotions, cfg.Display.Aliases), cfg.Display.QueueSize)
	if err := displayEngine.Start(ctx); err != nil {
		return fmt.Errorf("start display: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := displayEngine.Stop(stopCtx); err != nil {
			logger.WarnCF("runtime", "Stopping display failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	stream := sensors.NewSpeechStream(cfg.Sensors.SpeechURL)
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("speech recognition unavailable: %w", err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			logger.DebugCF("runtime", "Closing speech stream failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	speaker := speech.NewProcessor(newSpeaker(cfg.Speech), cfg.Speech.Suffix)

	registry := tools.NewToolRegistry()
	registry.SetMetrics(m)
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		ShortTerm:     mem.ShortTerm,
		LongTerm:      mem.LongTerm,
		RecallResults: cfg.Memory.RecallResults,
		LongTermLimit: cfg.Memory.LongTermSearchLimit,
	})

	dialogueOpts := dialogue.OptionsFromConfig(cfg)
	dialogueOpts.Provider = provider
	dialogueOpts.Tools = registry
	dialogueOpts.Memory = mem
	engine, err := dialogue.NewEngine(dialogueOpts)
	if err != nil {
		return err
	}

	fragments := bus.NewQueue[string]("speech-fragments", cfg.Perception.SpeechFragmentQueueSize)
	fusion := perception.NewFusionLoop(perception.LoopConfigFrom(cfg.Perception, cfg.Conversation.TriggerWord), vision, identities, fragments, m)

	consoleQueue := bus.NewQueue[bus.ConsoleLine]("console", 16)
	input := newConsoleInput()
	defer input.Close()
	out := conversation.NewConsole(input.Writer())

	registrar := conversation.NewRegistrar(vision, identities, displayEngine, speaker, consoleQueue, out, conversation.RegistrarOptions{
		Shots:    cfg.Conversation.RegistrationShots,
		Interval: cfg.Conversation.RegistrationInterval(),
	})

	orchestrator, err := conversation.NewOrchestrator(orchOpts, conversation.Dependencies{
		Gate:      fusion,
		Dialogue:  engine,
		Display:   displayEngine,
		Speaker:   speaker,
		Memory:    mem,
		Registrar: registrar,
		Events:    fusion.Events(),
		Console:   consoleQueue,
		Out:       out,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	logger.InfoCF("runtime", "Companion initialized", map[string]interface{}{
		"tools":      registry.Count(),
		"model":      provider.GetDefaultModel(),
		"display":    cfg.Display.URL,
		"vision_url": cfg.Sensors.VisionURL,
		"speech_url": cfg.Sensors.SpeechURL,
	})
	out.Notice(fmt.Sprintf("%s is listening. Say '%s' or type a message. Type 'quit' to stop.", cfg.Conversation.AssistantName, cfg.Conversation.TriggerWord))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return fusion.Run(gctx) })
	g.Go(func() error { return stream.Run(gctx, fragments) })
	g.Go(func() error {
		defer cancel()
		return orchestrator.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		startMetricsServer(gctx, g, cfg.Metrics.Addr, m)
	}
	go input.Run(gctx, consoleQueue)

	err = g.Wait()
	fmt.Fprintln(input.Writer(), "Shutting down...")
	return err
}

func newRenderer(cfg config.DisplayConfig) display.Renderer {
	if cfg.URL == "" {
		return display.NewLogRenderer()
	}
	return display.NewWebsocketRenderer(cfg.URL)
}

func newSpeaker(cfg config.SpeechConfig) speech.Speaker {
	cmd, err := speech.NewCommandSpeaker(cfg.Command)
	if err != nil {
		logger.WarnCF("runtime", "Speech output disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return cmd
}

func startMetricsServer(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		logger.InfoCF("metrics", "Metrics endpoint listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
