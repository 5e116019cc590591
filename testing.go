package nvmecheck

import (
	"github.com/ehrlich-b/go-nvmecheck/internal/logging"
	"github.com/ehrlich-b/go-nvmecheck/internal/sim"
)

// SimConfig describes an in-process simulated controller
type SimConfig = sim.Config

// SimNamespace describes one simulated namespace
type SimNamespace = sim.Namespace

// SimFaults injects controller misbehaviour into a simulated controller
type SimFaults = sim.Faults

// SimController is an in-process controller usable as a Channel
type SimController = sim.Controller

// DefaultSimConfig returns a simulated controller with one bare and one
// metadata namespace
func DefaultSimConfig() SimConfig {
	return sim.DefaultConfig()
}

// NewSimController creates a simulated controller. Its namespaces are
// backed by RAM unless cfg.Media says otherwise.
func NewSimController(cfg SimConfig) (*SimController, error) {
	return sim.New(cfg)
}

// NewSimHarness creates an initialized harness driving a fresh simulated
// controller. This is useful for testing code built on the harness
// without hardware. The caller shuts down the harness and closes the
// controller.
func NewSimHarness(cfg Config, simCfg SimConfig) (*Harness, *SimController, error) {
	if simCfg.Logger == nil {
		simCfg.Logger = cfg.Logger
	}
	if simCfg.Logger == nil {
		simCfg.Logger = logging.Nop()
	}

	ctrl, err := sim.New(simCfg)
	if err != nil {
		return nil, nil, err
	}

	h, err := New(cfg, ctrl)
	if err != nil {
		ctrl.Close()
		return nil, nil, err
	}
	if err := h.Init(); err != nil {
		ctrl.Close()
		return nil, nil, err
	}
	return h, ctrl, nil
}
