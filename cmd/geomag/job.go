package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nicktill/geomag/pkg/algorithm"
	"github.com/nicktill/geomag/pkg/config"
	"github.com/nicktill/geomag/pkg/controller"
	"github.com/nicktill/geomag/pkg/domain"
	"github.com/nicktill/geomag/pkg/state"
	badgerstate "github.com/nicktill/geomag/pkg/state/badger"
	"github.com/nicktill/geomag/pkg/state/sqlite"
	"github.com/nicktill/geomag/pkg/storage"
	badgerstore "github.com/nicktill/geomag/pkg/storage/badger"
	"github.com/nicktill/geomag/pkg/storage/memory"
	"github.com/nicktill/geomag/pkg/storage/remote"
)

const (
	defaultSourceKind = config.SourceBadger
	defaultStateKind  = config.StateFile
	defaultPeriod     = 60.0
	defaultDataType   = "variation"
	defaultLocation   = "R0"
)

var defaultChannels = []string{"H", "E", "Z", "F"}

// sourceFlags configures one side of a job.
type sourceFlags struct {
	kind     string
	path     string
	url      string
	apiKey   string
	timeout  string
	network  string
	dataType string
	location string
	period   float64
	channels []string
}

// jobFlags holds every job parameter a flag or the job file can set.
type jobFlags struct {
	observatory string
	start       string
	end         string
	realtime    int
	updateLimit int
	every       string

	input  sourceFlags
	output sourceFlags

	transform    string
	coefficients string
	allowedBad   float64
	alpha        float64
	beta         float64
	gamma        float64
	phi          float64
	m            int
	zthresh      float64

	stateKind string
	statePath string
	stateKey  string

	rename   map[string]string
	metadata map[string]string
}

var job jobFlags

func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&job.observatory, "observatory", "", "observatory code")
	f.StringVar(&job.start, "start", "", "window start (RFC3339)")
	f.StringVar(&job.end, "end", "", "window end (RFC3339); for updates, the time treated as now")
	f.IntVar(&job.realtime, "realtime", int(config.DefaultRealtime/time.Second), "update window in seconds")
	f.IntVar(&job.updateLimit, "update-limit", config.DefaultUpdateLimit, "gaps processed per update (0 = no limit)")
	f.StringVar(&job.every, "every", config.DefaultScheduleEvery.String(), "schedule interval")

	addSourceFlags(cmd, "input", &job.input)
	addSourceFlags(cmd, "output", &job.output)

	f.StringVar(&job.transform, "transform", config.DefaultTransform, "transform: "+strings.Join(algorithm.Names, ", "))
	f.StringVar(&job.coefficients, "coefficients", "", "filter coefficient document")
	f.Float64Var(&job.allowedBad, "allowed-bad", config.DefaultAllowedBadFraction, "fraction of missing filter window samples tolerated")
	f.Float64Var(&job.alpha, "alpha", 0, "sqdist level gain (required for sqdist)")
	f.Float64Var(&job.beta, "beta", 0, "sqdist trend gain")
	f.Float64Var(&job.gamma, "gamma", 0, "sqdist seasonal gain")
	f.Float64Var(&job.phi, "phi", 1, "sqdist trend damping")
	f.IntVar(&job.m, "m", 1, "sqdist seasonal slots")
	f.Float64Var(&job.zthresh, "zthresh", 6, "sqdist outlier z-score")

	f.StringVar(&job.stateKind, "state-kind", defaultStateKind, "state store: file, badger or sqlite")
	f.StringVar(&job.statePath, "state-path", "", "state store location")
	f.StringVar(&job.stateKey, "state-key", "", "state key (default derived from the job)")

	f.StringToStringVar(&job.rename, "rename", nil, "rename output channels, e.g. H=X")
	f.StringToStringVar(&job.metadata, "metadata", nil, "extra output channel attributes")
}

func addSourceFlags(cmd *cobra.Command, side string, sf *sourceFlags) {
	f := cmd.Flags()
	f.StringVar(&sf.kind, side+"-kind", defaultSourceKind, side+" source: memory, badger or remote")
	f.StringVar(&sf.path, side+"-path", "", side+" badger directory")
	f.StringVar(&sf.url, side+"-url", "", side+" service base URL")
	f.StringVar(&sf.timeout, side+"-timeout", "", side+" request timeout")
	f.StringVar(&sf.network, side+"-network", "", side+" network code")
	f.StringVar(&sf.dataType, side+"-type", defaultDataType, side+" data type")
	f.StringVar(&sf.location, side+"-location", defaultLocation, side+" location code")
	f.Float64Var(&sf.period, side+"-period", defaultPeriod, side+" sample period in seconds")
	f.StringSliceVar(&sf.channels, side+"-channels", nil, side+" channels")
}

// loadJob merges the job file under flags that were not set explicitly.
func loadJob(cmd *cobra.Command) (config.FileConfig, error) {
	fileCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fileCfg, fmt.Errorf("failed to load config: %w", err)
	}

	jc := fileCfg.Job
	applyStringConfig(cmd, "observatory", &job.observatory, jc.Observatory)
	applyStringConfig(cmd, "start", &job.start, jc.Start)
	applyStringConfig(cmd, "end", &job.end, jc.End)
	applyIntConfig(cmd, "realtime", &job.realtime, jc.Realtime)
	applyIntConfig(cmd, "update-limit", &job.updateLimit, jc.UpdateLimit)
	applyStringConfig(cmd, "every", &job.every, jc.Every)
	applyMapConfig(cmd, "rename", &job.rename, jc.Rename)
	applyMapConfig(cmd, "metadata", &job.metadata, jc.Metadata)

	applySourceConfig(cmd, "input", &job.input, fileCfg.Input)
	applySourceConfig(cmd, "output", &job.output, fileCfg.Output)

	tc := fileCfg.Transform
	applyStringConfig(cmd, "transform", &job.transform, tc.Name)
	applyStringConfig(cmd, "coefficients", &job.coefficients, tc.CoefficientFile)
	applyFloatConfig(cmd, "allowed-bad", &job.allowedBad, tc.AllowedBadFraction)
	applyFloatConfig(cmd, "alpha", &job.alpha, tc.Alpha)
	applyFloatConfig(cmd, "beta", &job.beta, tc.Beta)
	applyFloatConfig(cmd, "gamma", &job.gamma, tc.Gamma)
	applyFloatConfig(cmd, "phi", &job.phi, tc.Phi)
	applyIntConfig(cmd, "m", &job.m, tc.M)
	applyFloatConfig(cmd, "zthresh", &job.zthresh, tc.ZThresh)

	sc := fileCfg.State
	applyStringConfig(cmd, "state-kind", &job.stateKind, sc.Kind)
	applyStringConfig(cmd, "state-path", &job.statePath, sc.Path)
	applyStringConfig(cmd, "state-key", &job.stateKey, sc.Key)

	if job.observatory == "" {
		return fileCfg, domain.NewConfigurationError("no observatory given")
	}
	return fileCfg, nil
}

func applySourceConfig(cmd *cobra.Command, side string, sf *sourceFlags, sc config.SourceConfig) {
	applyStringConfig(cmd, side+"-kind", &sf.kind, sc.Kind)
	applyStringConfig(cmd, side+"-path", &sf.path, sc.Path)
	applyStringConfig(cmd, side+"-url", &sf.url, sc.URL)
	applyStringConfig(cmd, side+"-timeout", &sf.timeout, sc.Timeout)
	applyStringConfig(cmd, side+"-network", &sf.network, sc.Network)
	applyStringConfig(cmd, side+"-type", &sf.dataType, sc.Type)
	applyStringConfig(cmd, side+"-location", &sf.location, sc.Location)
	applyFloatConfig(cmd, side+"-period", &sf.period, sc.Period)
	applyStringsConfig(cmd, side+"-channels", &sf.channels, sc.Channels)
	if sc.APIKey != nil {
		sf.apiKey = *sc.APIKey
	}
}

// pipeline is a controller with the stores it opened.
type pipeline struct {
	ctrl    *controller.Controller
	mem     *memory.Storage
	badgers map[string]*badgerstore.Storage
	closers []io.Closer
}

// Close releases stores in reverse opening order.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildPipeline opens the sources and state store and wires the controller.
func buildPipeline(fileCfg config.FileConfig) (p *pipeline, err error) {
	p = &pipeline{badgers: make(map[string]*badgerstore.Storage)}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	obs, known := fileCfg.Observatory(job.observatory)
	inSel := selector(job.input, obs)
	outSel := selector(job.output, obs)

	in, err := p.openSource("input", job.input)
	if err != nil {
		return p, err
	}
	out, err := p.openSource("output", job.output)
	if err != nil {
		return p, err
	}

	inChannels := job.input.channels
	if len(inChannels) == 0 {
		inChannels = defaultChannels
	}

	acfg := algorithm.Config{
		Name:               job.transform,
		Channels:           inChannels,
		InputPeriod:        inSel.Period,
		OutputPeriod:       outSel.Period,
		CoefficientFile:    job.coefficients,
		AllowedBadFraction: &job.allowedBad,
		DataType:           outSel.DataType,
		Location:           outSel.Location,
		StateKey:           stateKey(inChannels),
		Alpha:              job.alpha,
		Beta:               job.beta,
		Gamma:              job.gamma,
		Phi:                job.phi,
		M:                  job.m,
		ZThresh:            job.zthresh,
	}
	if job.transform == algorithm.NameAdjusted || job.transform == algorithm.NameSqDist {
		if acfg.Store, err = p.openState(); err != nil {
			return p, err
		}
	}
	transform, err := algorithm.New(acfg)
	if err != nil {
		return p, err
	}
	if f, ok := transform.(*algorithm.Filter); ok {
		for _, step := range f.Steps() {
			zlog.Debug().Str("step", step.Name).Str("kind", string(step.Kind)).
				Dur("input", step.InputPeriod).Dur("output", step.OutputPeriod).Msg("filter step")
		}
	}

	metadata := map[string]string{}
	if known {
		for k, v := range obs.Metadata() {
			metadata[k] = v
		}
	}
	for k, v := range job.metadata {
		metadata[k] = v
	}

	p.ctrl, err = controller.New(controller.Config{
		Input:          in,
		Output:         out,
		Transform:      transform,
		InputSelector:  inSel,
		OutputSelector: outSel,
		InputChannels:  inChannels,
		OutputChannels: job.output.channels,
		Rename:         job.rename,
		Metadata:       metadata,
	})
	if err != nil {
		return p, err
	}
	return p, nil
}

func selector(sf sourceFlags, obs config.Observatory) storage.Selector {
	network := sf.network
	if network == "" {
		network = obs.Network
	}
	return storage.WireSelector{
		Observatory: strings.ToUpper(job.observatory),
		Network:     network,
		DataType:    sf.dataType,
		Location:    sf.location,
		Period:      sf.period,
	}.Selector()
}

func stateKey(channels []string) string {
	if job.stateKey != "" {
		return job.stateKey
	}
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", job.observatory, job.transform, strings.Join(channels, "")))
}

func (p *pipeline) openSource(side string, sf sourceFlags) (storage.Source, error) {
	switch sf.kind {
	case config.SourceMemory:
		if p.mem == nil {
			p.mem = memory.New()
		}
		return p.mem, nil
	case config.SourceBadger, "":
		path := sf.path
		if path == "" {
			path = filepath.Join(config.DefaultDataDir(), "samples")
		}
		return p.openBadger(path)
	case config.SourceRemote:
		timeout, err := parseTimeout(sf.timeout)
		if err != nil {
			return nil, domain.NewConfigurationError("invalid %s timeout %q", side, sf.timeout)
		}
		apiKey := sf.apiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEOMAG_API_KEY")
		}
		return remote.New(remote.Config{Endpoint: sf.url, APIKey: apiKey, Timeout: timeout})
	default:
		return nil, domain.NewConfigurationError("unknown %s kind %q", side, sf.kind)
	}
}

// openBadger opens each badger directory once; input and output may share it.
func (p *pipeline) openBadger(path string) (*badgerstore.Storage, error) {
	path = filepath.Clean(path)
	if s, ok := p.badgers[path]; ok {
		return s, nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	s, err := badgerstore.New(badgerstore.Config{Path: path, MaxMemoryMB: config.DefaultMaxMemoryMB})
	if err != nil {
		return nil, err
	}
	p.badgers[path] = s
	p.closers = append(p.closers, s)
	return s, nil
}

func (p *pipeline) openState() (state.Store, error) {
	switch job.stateKind {
	case config.StateFile, "":
		dir := job.statePath
		if dir == "" {
			dir = filepath.Join(config.DefaultDataDir(), "state")
		}
		return state.NewFileStore(dir), nil
	case config.StateBadger:
		path := job.statePath
		if path == "" {
			path = filepath.Join(config.DefaultDataDir(), "samples")
		}
		// share the sample database when it is already open
		if s, ok := p.badgers[filepath.Clean(path)]; ok {
			return badgerstate.Wrap(s.DB()), nil
		}
		s, err := badgerstate.New(badgerstate.Config{Path: path})
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, s)
		return s, nil
	case config.StateSQLite:
		path := job.statePath
		if path == "" {
			path = filepath.Join(config.DefaultDataDir(), "state.db")
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, s)
		return s, nil
	default:
		return nil, domain.NewConfigurationError("unknown state kind %q", job.stateKind)
	}
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseTime(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, domain.NewConfigurationError("--%s is required", name)
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, domain.NewConfigurationError("invalid --%s %q", name, value)
	}
	return t.UTC(), nil
}
