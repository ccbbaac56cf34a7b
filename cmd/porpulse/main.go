// porpulse — an OpenAI- and Ollama-compatible inference server for a single
// on-device Rockchip RKLLM accelerator.
//
// Usage:
//
//	porpulse serve
//	porpulse serve --models-dir /opt/models --port 8080
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hartyporpoise/porpulse/internal/api"
	"github.com/hartyporpoise/porpulse/internal/cachestore"
	"github.com/hartyporpoise/porpulse/internal/config"
	"github.com/hartyporpoise/porpulse/internal/cpu"
	"github.com/hartyporpoise/porpulse/internal/lifecycle"
	"github.com/hartyporpoise/porpulse/internal/metrics"
	"github.com/hartyporpoise/porpulse/internal/ollamaclient"
	"github.com/hartyporpoise/porpulse/internal/registry"
	"github.com/hartyporpoise/porpulse/internal/rkllm"
	"github.com/hartyporpoise/porpulse/internal/scheduler"
)

const banner = `
██████╗  ██████╗ ██████╗ ██████╗ ██╗   ██╗██╗     ███████╗███████╗
██╔══██╗██╔═══██╗██╔══██╗██╔══██╗██║   ██║██║     ██╔════╝██╔════╝
██████╔╝██║   ██║██████╔╝██████╔╝██║   ██║██║     ███████╗█████╗
██╔═══╝ ██║   ██║██╔══██╗██╔═══╝ ██║   ██║██║     ╚════██║██╔══╝
██║     ╚██████╔╝██║  ██║██║     ╚██████╔╝███████╗███████║███████╗
╚═╝      ╚═════╝ ╚═╝  ╚═╝╚═╝      ╚═════╝ ╚══════╝╚══════╝╚══════╝

  One NPU, every client speaking to it  ·  github.com/hartyporpoise/porpulse
`

func main() {
	cfg := config.Default()

	var preloadModel string

	root := &cobra.Command{
		Use:   "porpulse",
		Short: "porpulse — OpenAI/Ollama-compatible server for a single RKLLM accelerator",
		Long:  banner,
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Start the porpulse server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(&cfg, preloadModel)
		},
	}

	f := serve.Flags()
	f.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "bind address")
	f.IntVarP(&cfg.Server.Port, "port", "p", cfg.Server.Port, "HTTP port")
	f.StringVar(&cfg.Server.LogLevel, "log-level", cfg.Server.LogLevel, "log level (debug, info, warn, error)")
	f.StringVar(&cfg.ModelsDir, "models-dir", cfg.ModelsDir, "directory containing one subfolder per .rkllm model")
	f.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for saved KV-cache blobs")
	f.IntVar(&cfg.Hardware.NBatch, "n-batch", cfg.Hardware.NBatch, "maximum concurrent generate calls admitted to the NPU")
	f.StringVar(&cfg.ModelCatalog.BaseURL, "catalog-url", cfg.ModelCatalog.BaseURL, "optional remote model catalog base URL")
	f.StringVarP(&preloadModel, "model", "m", "", "load this model at startup instead of lazily on first request")

	root.AddCommand(serve)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cfg *config.Config, preloadModel string) error {
	configureLogging(cfg.Server.LogLevel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	bannerColor := color.New(color.FgCyan)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		bannerColor.DisableColor()
	}
	bannerColor.Print(banner)

	topo, err := cpu.Detect()
	if err != nil {
		log.Warn().Err(err).Msg("CPU detection failed, using conservative defaults")
		topo = &cpu.Topology{LogicalCores: 4, PhysicalCores: 4, PCores: 4, NUMANodes: 1}
	}
	fmt.Printf("CPU:   %s\n", topo.ModelName)
	fmt.Printf("Cores: %d physical / %d logical\n", topo.PhysicalCores, topo.LogicalCores)
	fmt.Printf("SIMD:  %s\n\n", cpu.FeatureSummary(topo))

	reg := registry.New(cfg.ModelsDir)
	if err := reg.Discover(); err != nil {
		return fmt.Errorf("discover models: %w", err)
	}
	models := reg.List()
	fmt.Printf("Models: %d discovered under %s\n", len(models), cfg.ModelsDir)
	for _, d := range models {
		fmt.Printf("  - %s (ctx=%d, %.1f GB)\n", d.FriendlyName, d.ContextLen, float64(d.SizeBytes)/1e9)
	}

	binding := rkllm.NewBinding()
	life := lifecycle.New(binding, reg, cfg, topo)

	warnAfter := time.Duration(cfg.Hardware.SlowWaitWarnMs) * time.Millisecond
	sched := scheduler.New(cfg.Hardware.NBatch, warnAfter)

	cache := cachestore.New(cfg.CacheDir)
	mc := metrics.NewCollector()

	var catalog *ollamaclient.Client
	if cfg.ModelCatalog.BaseURL != "" {
		catalog = ollamaclient.NewClient(cfg.ModelCatalog.BaseURL)
		fmt.Printf("Catalog: %s\n", cfg.ModelCatalog.BaseURL)
	}

	if preloadModel != "" {
		fmt.Printf("Preloading model %q...\n", preloadModel)
		if _, err := life.Load(preloadModel); err != nil {
			return fmt.Errorf("preload model %q: %w", preloadModel, err)
		}
	}

	srv := api.NewServer(cfg, topo, reg, life, sched, cache, mc, catalog)
	return srv.Run(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
}

// configureLogging sets zerolog's global level and always switches to a
// human-readable console writer on stderr; level parse
// failures fall back to info rather than aborting startup over a typo.
func configureLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
