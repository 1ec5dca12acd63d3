package loop

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Table is the declarative skeleton of a loop: names and round counts only.
// Behaviour is attached with Bind.
type Table struct {
	Stages []StageSpec `yaml:"stages" mapstructure:"stages"`
}

type StageSpec struct {
	Name   string   `yaml:"name" mapstructure:"name"`
	Rounds int      `yaml:"rounds" mapstructure:"rounds"`
	Steps  []string `yaml:"steps" mapstructure:"steps"`
}

// LoadTable decodes a YAML table such as:
//
//	stages:
//	  - name: instructions
//	    steps: [intro, quiz]
//	  - name: game
//	    rounds: 3
//	    steps: [bid, respond]
func LoadTable(r io.Reader) (*Table, error) {
	var t Table
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
	}
	return &t, nil
}

// Bind builds a loop from t, taking each step's behaviour from handlers by
// step name.
func Bind[C any](t *Table, handlers map[string]Step[C]) (*Loop[C], error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil table", ErrInvalidTable)
	}
	stages := make([]Stage[C], 0, len(t.Stages))
	for _, spec := range t.Stages {
		st := Stage[C]{Name: spec.Name, Rounds: spec.Rounds}
		for _, name := range spec.Steps {
			h, ok := handlers[name]
			if !ok {
				return nil, fmt.Errorf("%w: no handler for step %q", ErrInvalidTable, name)
			}
			h.Name = name
			st.Steps = append(st.Steps, h)
		}
		stages = append(stages, st)
	}
	return New(stages)
}
