package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/nicktill/geomag/pkg/domain"
)

// Document is the on-disk form of a step. Periods are in seconds.
type Document struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	InputPeriod  float64   `json:"input_period"`
	OutputPeriod float64   `json:"output_period"`
	Window       []float64 `json:"window"`
}

// kindAliases maps document type names to step kinds.
var kindAliases = map[string]Kind{
	string(WeightedWindow): WeightedWindow,
	string(BucketAverage):  BucketAverage,
	"firfilter":            WeightedWindow,
	"average":              BucketAverage,
}

// Step converts the document into a validated step.
func (d Document) Step() (Step, error) {
	kind, ok := kindAliases[d.Type]
	if !ok {
		return Step{}, domain.NewConfigurationError("step %q: unknown type %q", d.Name, d.Type)
	}
	window := make([]float64, len(d.Window))
	copy(window, d.Window)

	s := Step{
		Name:         d.Name,
		Kind:         kind,
		InputPeriod:  seconds(d.InputPeriod),
		OutputPeriod: seconds(d.OutputPeriod),
		Window:       window,
	}
	if err := s.Validate(); err != nil {
		return Step{}, err
	}
	return s, nil
}

// LoadSteps reads one document or an array of documents.
func LoadSteps(r io.Reader) ([]Step, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter document: %w", err)
	}
	data = bytes.TrimSpace(data)

	var docs []Document
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, domain.NewConfigurationError("invalid filter document: %v", err)
		}
	} else {
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, domain.NewConfigurationError("invalid filter document: %v", err)
		}
		docs = []Document{doc}
	}

	steps := make([]Step, 0, len(docs))
	for _, d := range docs {
		s, err := d.Step()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// LoadStepsFile reads a filter document from path.
func LoadStepsFile(path string) ([]Step, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open filter document: %w", err)
	}
	defer f.Close()
	return LoadSteps(f)
}

// seconds converts a period in seconds, rounded to the microsecond so that
// values such as 0.1 come out exact.
func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v*1e6)) * time.Microsecond
}
