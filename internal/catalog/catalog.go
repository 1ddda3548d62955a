// Package catalog describes the objective → goal → indicator hierarchy the
// dashboard is organised by, and drives goal-level cache warming.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/statdash/statdash/pkg/errors"
)

// Indicator is a single published series.
type Indicator struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Unit string `yaml:"unit,omitempty" json:"unit,omitempty"`
}

// Goal groups indicators.
type Goal struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Indicators []Indicator `yaml:"indicators" json:"indicators"`
}

// Objective groups goals.
type Objective struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Goals []Goal `yaml:"goals" json:"goals"`
}

// Catalog is an immutable, indexed view of the hierarchy.
type Catalog struct {
	objectives []Objective
	goals      map[string]*Goal
	indicators map[string]Indicator
}

type document struct {
	Objectives []Objective `yaml:"objectives"`
}

// Load reads a catalog YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read catalog").
			WithComponent("catalog").WithKey(path)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML. Every id must be non-empty and unique
// within its level; an indicator may belong to only one goal.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, invalid("failed to parse catalog: %v", err)
	}
	return New(doc.Objectives)
}

// New indexes objectives.
func New(objectives []Objective) (*Catalog, error) {
	c := &Catalog{
		objectives: objectives,
		goals:      make(map[string]*Goal),
		indicators: make(map[string]Indicator),
	}

	seenObjectives := make(map[string]bool)
	for oi := range c.objectives {
		obj := &c.objectives[oi]
		if obj.ID == "" {
			return nil, invalid("objective %d has no id", oi)
		}
		if seenObjectives[obj.ID] {
			return nil, invalid("duplicate objective id %q", obj.ID)
		}
		seenObjectives[obj.ID] = true

		for gi := range obj.Goals {
			goal := &obj.Goals[gi]
			if goal.ID == "" {
				return nil, invalid("goal %d of objective %q has no id", gi, obj.ID)
			}
			if _, dup := c.goals[goal.ID]; dup {
				return nil, invalid("duplicate goal id %q", goal.ID)
			}
			c.goals[goal.ID] = goal

			for _, ind := range goal.Indicators {
				if ind.ID == "" {
					return nil, invalid("indicator without id in goal %q", goal.ID)
				}
				if _, dup := c.indicators[ind.ID]; dup {
					return nil, invalid("duplicate indicator id %q", ind.ID)
				}
				c.indicators[ind.ID] = ind
			}
		}
	}

	return c, nil
}

// Objectives returns the hierarchy in file order.
func (c *Catalog) Objectives() []Objective {
	return c.objectives
}

// Goal looks up a goal by id.
func (c *Catalog) Goal(id string) (Goal, bool) {
	g, ok := c.goals[id]
	if !ok {
		return Goal{}, false
	}
	return *g, true
}

// Indicator looks up an indicator by id.
func (c *Catalog) Indicator(id string) (Indicator, bool) {
	ind, ok := c.indicators[id]
	return ind, ok
}

// IndicatorsForGoal returns the indicator ids of a goal in file order.
func (c *Catalog) IndicatorsForGoal(id string) ([]string, error) {
	g, ok := c.goals[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeCatalogNotFound, "unknown goal").
			WithComponent("catalog").WithKey(id)
	}
	ids := make([]string, len(g.Indicators))
	for i, ind := range g.Indicators {
		ids[i] = ind.ID
	}
	return ids, nil
}

func invalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeCatalogInvalid, fmt.Sprintf(format, args...)).
		WithComponent("catalog")
}
