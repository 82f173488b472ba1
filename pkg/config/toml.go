// Package config holds pipeline defaults and the TOML job file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML job file. Unset values are nil so that
// command-line flags can tell them apart from explicit zeros.
type FileConfig struct {
	Job           JobConfig       `toml:"job"`
	Input         SourceConfig    `toml:"input"`
	Output        SourceConfig    `toml:"output"`
	Transform     TransformConfig `toml:"transform"`
	State         StateConfig     `toml:"state"`
	Observatories []Observatory   `toml:"observatory"`
}

// JobConfig maps the invocation window and update settings.
type JobConfig struct {
	Observatory *string           `toml:"observatory"`
	Start       *string           `toml:"start"`
	End         *string           `toml:"end"`
	Realtime    *int              `toml:"realtime"` // seconds
	UpdateLimit *int              `toml:"update-limit"`
	Every       *string           `toml:"every"` // schedule interval, e.g. "1m"
	Rename      map[string]string `toml:"rename"`
	Metadata    map[string]string `toml:"metadata"`
}

// SourceConfig maps one data source and the stream it is read or written as.
type SourceConfig struct {
	Kind     *string  `toml:"kind"` // memory, badger or remote
	Path     *string  `toml:"path"`
	URL      *string  `toml:"url"`
	APIKey   *string  `toml:"api-key"`
	Timeout  *string  `toml:"timeout"`
	Network  *string  `toml:"network"`
	Type     *string  `toml:"type"`
	Location *string  `toml:"location"`
	Period   *float64 `toml:"period"` // seconds
	Channels []string `toml:"channels"`
}

// TransformConfig maps the transform and its parameters.
type TransformConfig struct {
	Name               *string  `toml:"name"`
	CoefficientFile    *string  `toml:"coefficients"`
	AllowedBadFraction *float64 `toml:"allowed-bad"`
	Alpha              *float64 `toml:"alpha"`
	Beta               *float64 `toml:"beta"`
	Gamma              *float64 `toml:"gamma"`
	Phi                *float64 `toml:"phi"`
	M                  *int     `toml:"m"`
	ZThresh            *float64 `toml:"zthresh"`
}

// StateConfig maps where stateful transforms keep their state.
type StateConfig struct {
	Kind *string `toml:"kind"` // file, badger or sqlite
	Path *string `toml:"path"`
	Key  *string `toml:"key"`
}

// Observatory is one entry of the observatory reference data.
type Observatory struct {
	Code              string  `toml:"code"`
	Name              string  `toml:"name"`
	Network           string  `toml:"network"`
	Agency            string  `toml:"agency"`
	Latitude          float64 `toml:"latitude"`
	Longitude         float64 `toml:"longitude"`
	Elevation         float64 `toml:"elevation"`
	DeclinationBase   float64 `toml:"declination-base"`
	SensorOrientation string  `toml:"sensor-orientation"`
}

// Metadata returns the observatory as channel attributes.
func (o Observatory) Metadata() map[string]string {
	md := map[string]string{
		"station_name":     o.Name,
		"latitude":         fmt.Sprintf("%g", o.Latitude),
		"longitude":        fmt.Sprintf("%g", o.Longitude),
		"elevation":        fmt.Sprintf("%g", o.Elevation),
		"declination_base": fmt.Sprintf("%g", o.DeclinationBase),
	}
	if o.Agency != "" {
		md["agency_name"] = o.Agency
	}
	if o.SensorOrientation != "" {
		md["sensor_orientation"] = o.SensorOrientation
	}
	return md
}

// Observatory looks up reference data by code, case-insensitively.
func (c FileConfig) Observatory(code string) (Observatory, bool) {
	for _, o := range c.Observatories {
		if strings.EqualFold(o.Code, code) {
			return o, true
		}
	}
	return Observatory{}, false
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}
