package algorithm

import (
	"time"

	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/state"
)

// Transform names accepted by New.
const (
	NameIdentity = "identity"
	NameFilter   = "filter"
	NameAdjusted = "adjusted"
	NameSqDist   = "sqdist"
	NameDbDt     = "dbdt"
)

// Names lists the transforms New can build.
var Names = []string{NameIdentity, NameFilter, NameAdjusted, NameSqDist, NameDbDt}

// Config selects and configures a transform by name.
type Config struct {
	Name     string
	Channels []string

	// filter, dbdt
	InputPeriod        time.Duration
	OutputPeriod       time.Duration
	CoefficientFile    string
	AllowedBadFraction *float64 // nil means filter.DefaultAllowedBadFraction
	DataType           string
	Location           string

	// adjusted, sqdist
	Store    state.Store
	StateKey string

	// sqdist
	Alpha   float64
	Beta    float64
	Gamma   float64
	Phi     float64
	M       int
	ZThresh float64
}

// New builds the named transform.
func New(cfg Config) (Transform, error) {
	switch cfg.Name {
	case NameIdentity, "":
		return NewIdentity(cfg.Channels), nil
	case NameFilter:
		f, err := NewFilter(FilterOptions{
			Channels:           cfg.Channels,
			InputPeriod:        cfg.InputPeriod,
			OutputPeriod:       cfg.OutputPeriod,
			CoefficientFile:    cfg.CoefficientFile,
			AllowedBadFraction: cfg.AllowedBadFraction,
			DataType:           cfg.DataType,
			Location:           cfg.Location,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case NameAdjusted:
		return NewAdjusted(AdjustedOptions{
			Store:    cfg.Store,
			StateKey: cfg.StateKey,
			DataType: cfg.DataType,
			Location: cfg.Location,
		}), nil
	case NameSqDist:
		if len(cfg.Channels) != 1 {
			return nil, domain.NewConfigurationError("sqdist needs exactly one input channel, got %d", len(cfg.Channels))
		}
		sq, err := NewSqDist(SqDistOptions{
			Channel:  cfg.Channels[0],
			Store:    cfg.Store,
			StateKey: cfg.StateKey,
			Alpha:    cfg.Alpha,
			Beta:     cfg.Beta,
			Gamma:    cfg.Gamma,
			Phi:      cfg.Phi,
			M:        cfg.M,
			ZThresh:  cfg.ZThresh,
		})
		if err != nil {
			return nil, err
		}
		return sq, nil
	case NameDbDt:
		d, err := NewDbDt(cfg.Channels, cfg.InputPeriod)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, domain.NewConfigurationError("unknown transform %q", cfg.Name)
	}
}
