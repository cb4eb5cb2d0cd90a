package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noetl/noetl/internal/playbook"
)

func parse(t *testing.T, yamlDoc string) *playbook.Playbook {
	t.Helper()
	pb, err := playbook.Parse("playbooks/sample.yaml", "1", []byte(yamlDoc))
	require.NoError(t, err)
	return pb
}

func TestInspectWorkflowNilPlaybookIsSimple(t *testing.T) {
	profile := InspectWorkflow(nil)
	assert.Equal(t, TierSimple, profile.Tier)
	assert.False(t, profile.HasLoops)
}

func TestInspectWorkflowNoLoopsIsSimple(t *testing.T) {
	pb := parse(t, `
workflow:
  - step: start
    type: start
    next:
      - then: [end]
  - step: end
    type: end
`)
	profile := InspectWorkflow(pb)
	assert.Equal(t, TierSimple, profile.Tier)
	assert.Equal(t, 0, profile.LoopCount)
	assert.Equal(t, 2, profile.TotalSteps)
}

func TestInspectWorkflowOneOrTwoLoopsIsStandard(t *testing.T) {
	pb := parse(t, `
workflow:
  - step: process
    loop:
      iterator: item
      in: "{{ items }}"
    next:
      - then: [end]
  - step: end
    type: end
`)
	profile := InspectWorkflow(pb)
	assert.Equal(t, TierStandard, profile.Tier)
	assert.Equal(t, 1, profile.LoopCount)
	assert.True(t, profile.HasLoops)
}

func TestInspectWorkflowThreeOrMoreLoopsIsHeavy(t *testing.T) {
	pb := parse(t, `
workflow:
  - step: a
    loop:
      iterator: item
      in: "{{ xs }}"
    next:
      - then: [b]
  - step: b
    loop:
      iterator: item
      in: "{{ ys }}"
    next:
      - then: [c]
  - step: c
    loop:
      iterator: item
      in: "{{ zs }}"
    next:
      - then: [end]
  - step: end
    type: end
`)
	profile := InspectWorkflow(pb)
	assert.Equal(t, TierHeavy, profile.Tier)
	assert.Equal(t, 3, profile.LoopCount)
}
