package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Tuning holds the load-time constants of the chunk engine.
type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	ChunkEdge  int `yaml:"chunk_edge" json:"chunk_edge"`

	// DiscoveryRadius is the per-axis load radius in chunks (x, y, z).
	DiscoveryRadius  [3]int `yaml:"discovery_radius" json:"discovery_radius"`
	UnloadHysteresis int    `yaml:"unload_hysteresis" json:"unload_hysteresis"`
	ScanEveryMs      int    `yaml:"scan_every_ms" json:"scan_every_ms"`

	Workers           int  `yaml:"workers" json:"workers"`
	MaxInFlight       int  `yaml:"max_in_flight" json:"max_in_flight"`
	MaxAppliesPerTick int  `yaml:"max_applies_per_tick" json:"max_applies_per_tick"`
	OcclusionCulling  bool `yaml:"occlusion_culling" json:"occlusion_culling"`

	FrustumMargin   float64 `yaml:"frustum_margin" json:"frustum_margin"`
	StatsEveryTicks int     `yaml:"stats_every_ticks" json:"stats_every_ticks"`
	RegistryShards  int     `yaml:"registry_shards" json:"registry_shards"`

	Noise   Noise   `yaml:"noise" json:"noise"`
	Terrain Terrain `yaml:"terrain" json:"terrain"`
}

type Noise struct {
	Seed        int64   `yaml:"seed" json:"seed"`
	Frequency   float64 `yaml:"frequency" json:"frequency"`
	Octaves     int     `yaml:"octaves" json:"octaves"`
	Persistence float64 `yaml:"persistence" json:"persistence"`
	Lacunarity  float64 `yaml:"lacunarity" json:"lacunarity"`
	Amplitude   float64 `yaml:"amplitude" json:"amplitude"`
}

type Terrain struct {
	Threshold     float64 `yaml:"threshold" json:"threshold"`
	HeightFalloff float64 `yaml:"height_falloff" json:"height_falloff"`
	SurfaceLevel  float64 `yaml:"surface_level" json:"surface_level"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:        20,
		ChunkEdge:         16,
		DiscoveryRadius:   [3]int{4, 2, 4},
		UnloadHysteresis:  1,
		ScanEveryMs:       250,
		Workers:           4,
		MaxInFlight:       64,
		MaxAppliesPerTick: 8,
		OcclusionCulling:  true,
		FrustumMargin:     1,
		StatsEveryTicks:   20,
		RegistryShards:    64,
		Noise: Noise{
			Seed:        1337,
			Frequency:   0.02,
			Octaves:     4,
			Persistence: 0.5,
			Lacunarity:  2,
			Amplitude:   1,
		},
		Terrain: Terrain{
			Threshold:     0,
			HeightFalloff: 0.04,
			SurfaceLevel:  0,
		},
	}
}

// Load reads a YAML tuning file. Omitted fields keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
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

// applyDefaults fills fields an explicit zero cannot mean anything for.
func (t *Tuning) applyDefaults() {
	d := Defaults()
	if t.TickRateHz == 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.ChunkEdge == 0 {
		t.ChunkEdge = d.ChunkEdge
	}
	if t.ScanEveryMs == 0 {
		t.ScanEveryMs = d.ScanEveryMs
	}
	if t.Workers == 0 {
		t.Workers = d.Workers
	}
	if t.MaxInFlight == 0 {
		t.MaxInFlight = d.MaxInFlight
	}
	if t.MaxAppliesPerTick == 0 {
		t.MaxAppliesPerTick = d.MaxAppliesPerTick
	}
	if t.StatsEveryTicks == 0 {
		t.StatsEveryTicks = d.StatsEveryTicks
	}
	if t.RegistryShards == 0 {
		t.RegistryShards = d.RegistryShards
	}
	if t.Noise.Frequency == 0 {
		t.Noise.Frequency = d.Noise.Frequency
	}
	if t.Noise.Octaves == 0 {
		t.Noise.Octaves = d.Noise.Octaves
	}
	if t.Noise.Persistence == 0 {
		t.Noise.Persistence = d.Noise.Persistence
	}
	if t.Noise.Lacunarity == 0 {
		t.Noise.Lacunarity = d.Noise.Lacunarity
	}
	if t.Noise.Amplitude == 0 {
		t.Noise.Amplitude = d.Noise.Amplitude
	}
}

//go:embed tuning.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tuning.schema.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("tuning.schema.json")
	})
	return schema, schemaErr
}

// Validate checks t against the embedded JSON schema plus the cross-field
// rules the schema cannot express.
func (t Tuning) Validate() error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile tuning schema: %w", err)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := s.Validate(doc); err != nil {
		return err
	}
	if t.MaxAppliesPerTick > t.MaxInFlight {
		return fmt.Errorf("max_applies_per_tick (%d) exceeds max_in_flight (%d)", t.MaxAppliesPerTick, t.MaxInFlight)
	}
	return nil
}
