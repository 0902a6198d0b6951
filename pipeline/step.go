package pipeline

import (
	"errors"
	"fmt"
)

// Op names a mutation of the source collection.
type Op string

const (
	OpAdd    Op = "add"
	OpUpsert Op = "upsert"
	OpRemove Op = "remove"
	OpReset  Op = "reset"
	OpSort   Op = "sort"
	OpMove   Op = "move"
	OpSet    Op = "set"
	OpUnset  Op = "unset"
)

var ErrUnknownOp = errors.New("unknown step op")

// Step is one mutation of the source collection. Which fields apply depends on
// Op:
//
//   - add: Records, optionally At
//   - upsert: Records
//   - remove: IDs
//   - reset: Records, possibly empty
//   - sort: optionally Comparator, which then replaces the source comparator
//   - move: From (default last) and To (default first)
//   - set: ID and Attributes
//   - unset: ID and Unset
type Step struct {
	Op         Op               `yaml:"op" toml:"op" json:"op"`
	Records    []map[string]any `yaml:"records" toml:"records" json:"records"`
	IDs        []any            `yaml:"ids" toml:"ids" json:"ids"`
	ID         any              `yaml:"id" toml:"id" json:"id"`
	Attributes map[string]any   `yaml:"attributes" toml:"attributes" json:"attributes"`
	Unset      []string         `yaml:"unset" toml:"unset" json:"unset"`
	Comparator string           `yaml:"comparator" toml:"comparator" json:"comparator"`
	At         *int             `yaml:"at" toml:"at" json:"at"`
	From       *int             `yaml:"from" toml:"from" json:"from"`
	To         *int             `yaml:"to" toml:"to" json:"to"`
}

func (s *Step) normalize() {
	normalize(s.Records)
	normalize(s.IDs)
	normalize(s.Attributes)
	s.ID = normalize(s.ID)
}

func (s Step) validate() error {
	switch s.Op {
	case OpAdd, OpUpsert:
		if len(s.Records) == 0 {
			return fmt.Errorf("%w: %s needs records", ErrInvalidConfig, s.Op)
		}
	case OpRemove:
		if len(s.IDs) == 0 {
			return fmt.Errorf("%w: remove needs ids", ErrInvalidConfig)
		}
	case OpSet:
		if s.ID == nil || len(s.Attributes) == 0 {
			return fmt.Errorf("%w: set needs id and attributes", ErrInvalidConfig)
		}
	case OpUnset:
		if s.ID == nil || len(s.Unset) == 0 {
			return fmt.Errorf("%w: unset needs id and attribute names", ErrInvalidConfig)
		}
	case OpReset, OpSort, OpMove:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}

	return nil
}
