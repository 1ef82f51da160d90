package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	// RollbackFrames is the rewind window and snapshot ring size.
	RollbackFrames   int `yaml:"rollback_frames"`
	MaxCatchupFrames int `yaml:"max_catchup_frames"`
	InputQueue       int `yaml:"input_queue"`
	MaxParallel      int `yaml:"max_parallel_systems"`

	Arena Arena `yaml:"arena"`
}

type Arena struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	Speed  int `yaml:"speed"`
}

func Defaults() Tuning {
	var t Tuning
	t.applyDefaults()
	return t
}

func (t *Tuning) applyDefaults() {
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = "1.0"
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 30
	}
	if t.RollbackFrames <= 0 {
		t.RollbackFrames = 16
	}
	if t.MaxCatchupFrames <= 0 {
		t.MaxCatchupFrames = 8
	}
	if t.InputQueue <= 0 {
		t.InputQueue = 4096
	}
	if t.MaxParallel < 0 {
		t.MaxParallel = 0
	}
	if t.Arena.Width <= 0 {
		t.Arena.Width = 64
	}
	if t.Arena.Height <= 0 {
		t.Arena.Height = 64
	}
	if t.Arena.Speed <= 0 {
		t.Arena.Speed = 1
	}
}

func (t Tuning) Validate() error {
	var errs []error
	if t.TickRateHz > 1000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz too high: %d", t.TickRateHz))
	}
	if t.RollbackFrames > 4096 {
		errs = append(errs, fmt.Errorf("rollback_frames too large: %d", t.RollbackFrames))
	}
	if t.Arena.Speed >= t.Arena.Width || t.Arena.Speed >= t.Arena.Height {
		errs = append(errs, fmt.Errorf("arena.speed %d does not fit a %dx%d arena", t.Arena.Speed, t.Arena.Width, t.Arena.Height))
	}
	return errors.Join(errs...)
}

// Load reads path, fills unset fields with defaults and validates.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.applyDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Write stores t as YAML so a run can be replayed with the tuning it used.
func Write(path string, t Tuning) error {
	b, err := yaml.Marshal(t)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
