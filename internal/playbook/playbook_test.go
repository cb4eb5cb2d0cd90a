package playbook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlaybook = `
workload:
  limit: 10
workflow:
  - step: start
    type: start
    next:
      - then: [fetch]
  - step: fetch
    call: fetch_items
    with:
      limit: "{{ limit }}"
    next:
      - when: "count > 0"
        then: [process]
      - else: [end]
  - step: process
    loop:
      iterator: item
      in: "{{ results.fetch }}"
      filter: "item.active"
      chunk: 5
    next:
      - then: [aggregate]
  - step: aggregate
    end_loop:
      pointer: process
      result:
        total: "{{ loop_results | to_json }}"
    next:
      - then: [end]
  - step: end
    type: end
workbook:
  - name: fetch_items
    type: http
    with:
      url: "https://example.com/items"
`

func parseSample(t *testing.T) *Playbook {
	t.Helper()
	pb, err := Parse("playbooks/sample.yaml", "1", []byte(samplePlaybook))
	require.NoError(t, err)
	return pb
}

func TestParseOrdersStepsAndIndexesWorkbook(t *testing.T) {
	pb := parseSample(t)
	require.Len(t, pb.Workflow, 5)
	assert.Equal(t, "start", pb.Workflow[0].Name)
	assert.Equal(t, "end", pb.Workflow[4].Name)

	task, ok := pb.TaskByName("fetch_items")
	require.True(t, ok)
	assert.Equal(t, "http", task.Type)
}

func TestParseNextWhenThenAndElse(t *testing.T) {
	pb := parseSample(t)
	fetch, ok := pb.StepByName("fetch")
	require.True(t, ok)
	require.Len(t, fetch.Next, 2)

	assert.Equal(t, "count > 0", fetch.Next[0].When)
	assert.Equal(t, []string{"process"}, fetch.Next[0].Then)

	assert.True(t, fetch.Next[1].Else)
	assert.Equal(t, []string{"end"}, fetch.Next[1].Then)
}

func TestParseLoopAndEndLoop(t *testing.T) {
	pb := parseSample(t)
	process, ok := pb.StepByName("process")
	require.True(t, ok)
	require.NotNil(t, process.Loop)
	assert.Equal(t, "item", process.Loop.Iterator)
	assert.Equal(t, 5, process.Loop.Chunk)

	aggregate, ok := pb.StepByName("aggregate")
	require.True(t, ok)
	require.NotNil(t, aggregate.EndLoop)
	assert.Equal(t, "process", aggregate.EndLoop.Pointer)
}

func TestStepIndexAndStepAt(t *testing.T) {
	pb := parseSample(t)
	idx, ok := pb.StepIndex("process")
	require.True(t, ok)
	assert.Equal(t, 2, idx)

	step, ok := pb.StepAt(idx)
	require.True(t, ok)
	assert.Equal(t, "process", step.Name)
}

func TestIsControlDetectsStartEndAndTypelessSteps(t *testing.T) {
	pb := parseSample(t)
	start, _ := pb.StepByName("start")
	assert.True(t, start.IsControl())

	fetch, _ := pb.StepByName("fetch")
	assert.False(t, fetch.IsControl())
}

func TestMemoryMaterializerAppendsRowsOnEachCall(t *testing.T) {
	pb := parseSample(t)
	m := &MemoryMaterializer{}

	require.NoError(t, m.Materialize(context.Background(), "exec1", pb))
	require.NoError(t, m.Materialize(context.Background(), "exec1", pb))

	assert.Len(t, m.Steps, 10, "materializing twice appends rows; natural-key dedup is the Postgres upsert's job")
	assert.GreaterOrEqual(t, len(m.Transitions), 8)
}
