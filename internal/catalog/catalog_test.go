package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statdash/statdash/pkg/errors"
)

const sampleCatalog = `
objectives:
  - id: people
    name: People
    goals:
      - id: SDG_1
        name: No poverty
        indicators:
          - id: SDG_1_1
            name: Population below the poverty line
            unit: percent
          - id: SDG_1_2
            name: Social protection coverage
      - id: SDG_2
        name: Zero hunger
        indicators:
          - id: SDG_2_1
            name: Prevalence of undernourishment
  - id: planet
    name: Planet
    goals:
      - id: SDG_13
        name: Climate action
        indicators: []
`

func TestParse(t *testing.T) {
	cat, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)

	require.Len(t, cat.Objectives(), 2)
	assert.Equal(t, "planet", cat.Objectives()[1].ID)

	goal, ok := cat.Goal("SDG_1")
	require.True(t, ok)
	assert.Equal(t, "No poverty", goal.Name)

	ids, err := cat.IndicatorsForGoal("SDG_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"SDG_1_1", "SDG_1_2"}, ids)

	ids, err = cat.IndicatorsForGoal("SDG_13")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ind, ok := cat.Indicator("SDG_1_1")
	require.True(t, ok)
	assert.Equal(t, "percent", ind.Unit)

	_, err = cat.IndicatorsForGoal("SDG_99")
	assert.True(t, errors.HasCode(err, errors.ErrCodeCatalogNotFound))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "malformed", yaml: "objectives: [\n"},
		{name: "objective without id", yaml: "objectives:\n  - name: x\n"},
		{name: "duplicate goal", yaml: `
objectives:
  - id: a
    goals: [{id: G}]
  - id: b
    goals: [{id: G}]
`},
		{name: "indicator in two goals", yaml: `
objectives:
  - id: a
    goals:
      - id: G1
        indicators: [{id: I}]
      - id: G2
        indicators: [{id: I}]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeCatalogInvalid), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0600))

	cat, err := Load(path)
	require.NoError(t, err)
	_, ok := cat.Goal("SDG_2")
	assert.True(t, ok)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigLoad))
}
