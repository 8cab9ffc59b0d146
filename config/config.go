// Package config holds the statically typed run configuration of a coupled
// simulation. A YAML file is merged over Default and validated before any
// process group is built.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/notargets/DGCouple/exchange"
	"github.com/notargets/DGCouple/geometry"
	"github.com/notargets/DGCouple/mesh"
	"github.com/notargets/DGCouple/partitions"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Run      Run      `yaml:"run"`
	Coupling Coupling `yaml:"coupling"`
	Scaling  Scaling  `yaml:"scaling"`
	Coarse   Group    `yaml:"coarse"`
	Fine     Group    `yaml:"fine"`
	Log      Log      `yaml:"log"`
}

// Run bounds the march loop of the coarse group. The fine group always runs
// unbounded and stops on the coarse termination signal.
type Run struct {
	TotalTime float64 `yaml:"totalTime"`
	Steps     int     `yaml:"steps"`
	SaveEvery int     `yaml:"saveEvery"`
}

type Coupling struct {
	Dimensional      bool    `yaml:"dimensional"`
	Transformational bool    `yaml:"transformational"`
	ExcludeTop       bool    `yaml:"excludeTop"`
	ExcludeBottom    bool    `yaml:"excludeBottom"`
	InterpTolerance  float64 `yaml:"interpTolerance"`
	SendTraction     bool    `yaml:"sendTraction"`
}

// Scaling holds the reference values of the dimensional side.
type Scaling struct {
	Velocity          float64 `yaml:"velocity"`
	Stress            float64 `yaml:"stress"`
	Temperature       float64 `yaml:"temperature"`
	TemperatureOffset float64 `yaml:"temperatureOffset"`
}

type Mesh struct {
	Origin  []float64 `yaml:"origin"`
	Counts  []int     `yaml:"counts"`
	Spacing []float64 `yaml:"spacing"`
}

// Group describes one solver and the process group running it.
type Group struct {
	Ranks              int       `yaml:"ranks"`
	Mesh               Mesh      `yaml:"mesh"`
	Partition          string    `yaml:"partition"`
	SlabAxis           int       `yaml:"slabAxis"`
	CFL                float64   `yaml:"cfl"`
	Diffusivity        float64   `yaml:"diffusivity"`
	Viscosity          float64   `yaml:"viscosity"`
	InitialTemperature float64   `yaml:"initialTemperature"`
	FrameOffset        []float64 `yaml:"frameOffset"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default is a two dimensional run with a fine patch in the middle of the
// unit square, each group on a single rank.
func Default() Config {
	return Config{
		Run: Run{Steps: 10, SaveEvery: 5},
		Coupling: Coupling{
			InterpTolerance: 1e-10,
		},
		Scaling: Scaling{Velocity: 1, Stress: 1, Temperature: 1},
		Coarse: Group{
			Ranks: 1,
			Mesh: Mesh{
				Origin:  []float64{0, 0},
				Counts:  []int{16, 16},
				Spacing: []float64{1. / 16, 1. / 16},
			},
			Partition:   "slab",
			CFL:         0.9,
			Diffusivity: 1,
			Viscosity:   1,
		},
		Fine: Group{
			Ranks: 1,
			Mesh: Mesh{
				Origin:  []float64{0.25, 0.25},
				Counts:  []int{16, 16},
				Spacing: []float64{1. / 32, 1. / 32},
			},
			Partition:          "slab",
			CFL:                0.9,
			Diffusivity:        1,
			Viscosity:          1,
			InitialTemperature: 1,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads path and merges it over Default. Keys absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes YAML over cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return cfg.Validate()
}

func (c Config) Validate() error {
	if c.Run.TotalTime < 0 || c.Run.Steps < 0 || c.Run.SaveEvery < 0 {
		return errors.New("run bounds must be non-negative")
	}
	if c.Run.TotalTime == 0 && c.Run.Steps == 0 {
		return errors.New("run needs totalTime or steps")
	}
	if c.Coupling.InterpTolerance < 0 {
		return errors.New("interpTolerance must be non-negative")
	}
	if c.Coupling.Dimensional {
		if _, err := c.Converter(); err != nil {
			return err
		}
	}
	for _, g := range []struct {
		name  string
		group Group
	}{{"coarse", c.Coarse}, {"fine", c.Fine}} {
		if err := g.group.validate(); err != nil {
			return fmt.Errorf("%s group: %w", g.name, err)
		}
	}
	if _, err := c.Log.Handler(io.Discard); err != nil {
		return err
	}
	if len(c.Coarse.Mesh.Counts) != len(c.Fine.Mesh.Counts) {
		return fmt.Errorf("coarse mesh is %dD but fine mesh is %dD",
			len(c.Coarse.Mesh.Counts), len(c.Fine.Mesh.Counts))
	}
	if c.Coupling.Transformational && len(c.Fine.FrameOffset) != len(c.Fine.Mesh.Counts) {
		return fmt.Errorf("transformational coupling needs a %dD fine frameOffset",
			len(c.Fine.Mesh.Counts))
	}
	return nil
}

func (g Group) validate() error {
	if g.Ranks < 1 {
		return fmt.Errorf("ranks must be positive, got %d", g.Ranks)
	}
	if _, err := partitions.ParseStrategy(g.Partition); err != nil {
		return err
	}
	if g.CFL <= 0 || g.CFL > 1 {
		return fmt.Errorf("cfl must lie in (0, 1], got %g", g.CFL)
	}
	if g.Diffusivity < 0 || g.Viscosity < 0 || g.Diffusivity+g.Viscosity == 0 {
		return errors.New("diffusivity and viscosity must be non-negative and not both zero")
	}
	m, err := mesh.NewRegular(g.MeshSpec())
	if err != nil {
		return err
	}
	if g.Ranks > m.K() {
		return fmt.Errorf("%d ranks for %d elements", g.Ranks, m.K())
	}
	return nil
}

// MeshSpec is the regular mesh description of the group.
func (g Group) MeshSpec() mesh.RegularSpec {
	return mesh.RegularSpec{
		Origin:  g.Mesh.Origin,
		Counts:  g.Mesh.Counts,
		Spacing: g.Mesh.Spacing,
	}
}

// Strategy returns the parsed partition strategy; Validate has checked it.
func (g Group) Strategy() partitions.PartitionStrategy {
	s, _ := partitions.ParseStrategy(g.Partition)
	return s
}

// Frame is the offset of the group's local coordinates in the global frame.
func (g Group) Frame() geometry.Frame {
	return geometry.Frame{Offset: g.FrameOffset}
}

func (c Config) Exclusion() mesh.Exclusion {
	return mesh.Exclusion{Top: c.Coupling.ExcludeTop, Bottom: c.Coupling.ExcludeBottom}
}

// Converter builds the unit conversion of the dimensional side.
func (c Config) Converter() (exchange.Converter, error) {
	if !c.Coupling.Dimensional {
		return exchange.Identity{}, nil
	}
	s := c.Scaling
	return exchange.NewScaling(s.Velocity, s.Stress, s.Temperature, s.TemperatureOffset)
}
