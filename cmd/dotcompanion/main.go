// dotcompanion - Companion robot runtime
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 dotcompanion contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dotsetgreg/dotcompanion/pkg/config"
	"github.com/dotsetgreg/dotcompanion/pkg/faces"
	"github.com/dotsetgreg/dotcompanion/pkg/logger"
	"github.com/dotsetgreg/dotcompanion/pkg/memory"
	"github.com/dotsetgreg/dotcompanion/pkg/metrics"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "dotcompanion"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if path := strings.TrimSpace(os.Getenv("DOTCOMPANION_CONFIG")); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dotcompanion", "config.json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config, debug bool) {
	level := logger.ParseLevel(cfg.Logging.Level)
	if debug {
		level = logger.DEBUG
	}
	logger.Init(logger.Options{
		File:  cfg.Logging.File,
		Level: level,
		JSON:  cfg.Logging.JSON,
	})
}

func configInit(out io.Writer, in io.Reader, force bool) error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config already exists at %s\n", configPath)
		fmt.Fprint(out, "Overwrite? (y/n): ")
		reader := bufio.NewReader(in)
		response, readErr := reader.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("read answer: %w", readErr)
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(out, "%s is ready!\n", appName)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point provider.api_base at your llama.cpp or OpenAI-compatible server in", configPath)
	fmt.Fprintln(out, "  2. Start the vision and speech sidecars (sensors.vision_url, sensors.speech_url)")
	fmt.Fprintln(out, "  3. Run: dotcompanion run")
	return nil
}

func memoryReset(ctx context.Context, out io.Writer, cfg *config.Config) error {
	svc, err := openMemory(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear memories: %w", err)
	}
	fmt.Fprintln(out, "✓ Short-term and long-term memories cleared")
	return nil
}

func memoryStats(ctx context.Context, out io.Writer, cfg *config.Config) error {
	svc, err := openMemory(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	exchanges, err := svc.LongTerm.Count(ctx)
	if err != nil {
		return fmt.Errorf("count long-term memories: %w", err)
	}
	fmt.Fprintf(out, "Memory directory: %s\n", cfg.MemoryDir())
	fmt.Fprintf(out, "Short-term entries: %d/%d\n", svc.ShortTerm.Len(), svc.ShortTerm.Capacity())
	fmt.Fprintf(out, "Long-term exchanges: %d\n", exchanges)

	recent, err := svc.LongTerm.Recent(ctx, 3)
	if err != nil {
		return fmt.Errorf("read recent exchanges: %w", err)
	}
	for _, ex := range recent {
		fmt.Fprintf(out, "  %s  %s: %s\n", ex.Timestamp.Format("2006-01-02 15:04"), valueOr(ex.UserName, "User"), ex.UserInput)
	}
	return nil
}

func openMemory(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*memory.Service, error) {
	svc, err := memory.Open(ctx, memory.Config{
		Dir:               cfg.MemoryDir(),
		ShortTermCapacity: cfg.Memory.ShortTermCapacity,
		EmbeddingModel:    cfg.Memory.EmbeddingModel,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	return svc, nil
}

func openFaces(cfg *config.Config) (*faces.Database, error) {
	db, err := faces.NewDatabase(cfg.FacesDir(), cfg.Faces.MatchThreshold, cfg.Perception.UnknownIdentity, cfg.Faces.CacheTTL())
	if err != nil {
		return nil, fmt.Errorf("open identity database: %w", err)
	}
	return db, nil
}

func facesList(out io.Writer, cfg *config.Config) error {
	db, err := openFaces(cfg)
	if err != nil {
		return err
	}
	names, err := db.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No registered faces.")
		return nil
	}
	fmt.Fprintln(out, "Registered faces:")
	for _, name := range names {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return nil
}

func facesRemove(out io.Writer, cfg *config.Config, name string) error {
	db, err := openFaces(cfg)
	if err != nil {
		return err
	}
	if err := db.Remove(name); err != nil {
		return fmt.Errorf("remove %q: %w", name, err)
	}
	fmt.Fprintf(out, "✓ Face '%s' removed\n", name)
	return nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
