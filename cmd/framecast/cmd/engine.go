package cmd

import (
	"fmt"
	"log/slog"

	"github.com/jmylchreest/framecast/internal/capability"
	"github.com/jmylchreest/framecast/internal/config"
	"github.com/jmylchreest/framecast/internal/controller"
	"github.com/jmylchreest/framecast/internal/selector"
	"github.com/jmylchreest/framecast/internal/session"
)

// engine is the registry and selector shared by every command.
type engine struct {
	registry *capability.Registry
	selector *selector.Selector
}

// newEngine loads the configured catalog, or the built-in one, into a new
// registry.
func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	catalog := capability.DefaultCatalog()
	if path := cfg.Capabilities.CatalogPath; path != "" {
		loaded, err := capability.LoadCatalog(path)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	registry := capability.NewRegistry(logger)
	gen, err := registry.Replace(catalog)
	if err != nil {
		return nil, fmt.Errorf("installing catalog: %w", err)
	}
	logger.Debug("capability catalog loaded",
		slog.String("path", cfg.Capabilities.CatalogPath),
		slog.Uint64("generation", gen),
		slog.Int("csc_specs", len(catalog.Csc)),
		slog.Int("encoder_specs", len(catalog.Encoders)),
	)

	return &engine{
		registry: registry,
		selector: selector.New(registry, selectorConfig(cfg.Selector), logger),
	}, nil
}

func selectorConfig(c config.SelectorConfig) selector.Config {
	return selector.Config{
		MaxDenominator: c.MaxDenominator,
		MinScaledSize:  c.MinScaledSize,
		CacheSize:      c.CacheSize,
	}
}

func controllerConfig(c config.ControllerConfig, t config.TelemetryConfig) controller.Config {
	return controller.Config{
		QueueSize:        c.QueueSize,
		SustainFrames:    c.SustainFrames,
		HysteresisBand:   c.HysteresisBand,
		FrameInterval:    c.FrameInterval,
		PressureStep:     c.PressureStep,
		MinQuality:       c.MinQuality,
		MinSpeed:         c.MinSpeed,
		ReselectInterval: c.ReselectInterval,
		LossThreshold:    c.LossThreshold,
		CPUHighWatermark: c.CPUHighWatermark,
		MinBandwidth:     uint64(c.MinBandwidth.Bytes()),
		EncodeWindow:     t.EncodeWindow,
		NetworkWindow:    t.NetworkWindow,
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.Controller = controllerConfig(cfg.Controller, cfg.Telemetry)
	sc.CloseTimeout = cfg.Controller.CloseTimeout
	return sc
}

// newManager builds a session manager over the engine's registry and
// selector.
func (e *engine) newManager(cfg *config.Config, deps session.Deps) (*session.Manager, error) {
	deps.Registry = e.registry
	deps.Selector = e.selector
	return session.NewManager(sessionConfig(cfg), deps)
}
