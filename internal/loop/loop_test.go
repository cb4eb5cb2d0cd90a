package loop

import (
	"testing"

	"github.com/noetl/noetl/internal/model"
	"github.com/noetl/noetl/internal/playbook"
	"github.com/noetl/noetl/internal/render"
	"github.com/noetl/noetl/internal/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(i int) *int { return &i }

func TestExpandFiltersAndKeepsIndices(t *testing.T) {
	r := render.New()
	ctx := value.Map(map[string]value.Value{
		"items": value.List(
			value.Map(map[string]value.Value{"active": value.Bool(true), "id": value.Int(1)}),
			value.Map(map[string]value.Value{"active": value.Bool(false), "id": value.Int(2)}),
			value.Map(map[string]value.Value{"active": value.Bool(true), "id": value.Int(3)}),
		),
	})

	spec := &playbook.LoopSpec{Iterator: "item", In: "{{ items }}", Filter: "item.active"}
	iterations, err := Expand(r, "exec1", 2, "process", spec, ctx, value.Map(nil))
	require.NoError(t, err)
	require.Len(t, iterations, 2)

	firstID, _ := iterations[0].Item.Get("id")
	v, _ := firstID.Int()
	assert.Equal(t, int64(1), v)
	assert.Equal(t, "exec1-step-2-iter-0", iterations[0].NodeID)

	secondID, _ := iterations[1].Item.Get("id")
	v2, _ := secondID.Int()
	assert.Equal(t, int64(3), v2)
	assert.Equal(t, "exec1-step-2-iter-1", iterations[1].NodeID)
}

func TestExpandWithoutFilterKeepsEverything(t *testing.T) {
	r := render.New()
	ctx := value.Map(map[string]value.Value{
		"items": value.List(value.Int(1), value.Int(2), value.Int(3)),
	})
	spec := &playbook.LoopSpec{Iterator: "n", In: "{{ items }}"}
	iterations, err := Expand(r, "exec1", 1, "loop1", spec, ctx, value.Map(nil))
	require.NoError(t, err)
	assert.Len(t, iterations, 3)
}

func TestExpandChunksKeptItems(t *testing.T) {
	r := render.New()
	ctx := value.Map(map[string]value.Value{
		"items": value.List(value.Int(1), value.Int(2), value.Int(3), value.Int(4), value.Int(5)),
	})
	spec := &playbook.LoopSpec{Iterator: "n", In: "{{ items }}", Chunk: 2}
	iterations, err := Expand(r, "exec1", 1, "loop1", spec, ctx, value.Map(nil))
	require.NoError(t, err)
	require.Len(t, iterations, 3)

	list, ok := iterations[0].Item.List()
	require.True(t, ok)
	assert.Len(t, list, 2)

	lastList, ok := iterations[2].Item.List()
	require.True(t, ok)
	assert.Len(t, lastList, 1)
}

func TestExpandAttachesLoopMetadata(t *testing.T) {
	r := render.New()
	ctx := value.Map(map[string]value.Value{"items": value.List(value.Int(7))})
	spec := &playbook.LoopSpec{Iterator: "n", In: "{{ items }}"}
	iterations, err := Expand(r, "exec1", 3, "myloop", spec, ctx, value.Map(nil))
	require.NoError(t, err)
	require.Len(t, iterations, 1)

	loopMeta, ok := iterations[0].Workload.Get("_loop")
	require.True(t, ok)
	name, ok := loopMeta.Get("loop_name")
	require.True(t, ok)
	assert.Equal(t, "myloop", name.String())

	idx, ok := loopMeta.Get("current_index")
	require.True(t, ok)
	i, _ := idx.Int()
	assert.Equal(t, int64(0), i)
}

func TestCompletedIterationsFiltersAndOrdersByIndex(t *testing.T) {
	events := []model.Event{
		{NodeName: "body", EventType: model.EventActionCompleted, Status: model.StatusCompleted, CurrentIndex: ptr(1), OutputResult: value.Int(20)},
		{NodeName: "body", EventType: model.EventActionCompleted, Status: model.StatusCompleted, CurrentIndex: ptr(0), OutputResult: value.Int(10)},
		{NodeName: "other", EventType: model.EventActionCompleted, Status: model.StatusCompleted, CurrentIndex: ptr(0), OutputResult: value.Int(99)},
		{NodeName: "body", EventType: model.EventActionCompleted, Status: model.StatusFailed, CurrentIndex: ptr(2), OutputResult: value.Int(30)},
	}
	out := CompletedIterations(events, "body", "")
	require.Len(t, out, 2)
	v0, _ := out[0].OutputResult.Int()
	v1, _ := out[1].OutputResult.Int()
	assert.Equal(t, int64(10), v0)
	assert.Equal(t, int64(20), v1)
}

func TestCompletedIterationsFallsBackToWorkbookTaskName(t *testing.T) {
	events := []model.Event{
		{NodeName: "fetch_task", EventType: model.EventResult, Status: model.StatusCompleted, CurrentIndex: ptr(0), OutputResult: value.String("x")},
	}
	out := CompletedIterations(events, "fetch_step", "fetch_task")
	require.Len(t, out, 1)
}

func TestAggregateRendersResultTemplate(t *testing.T) {
	r := render.New()
	events := []model.Event{
		{NodeName: "body", CurrentIndex: ptr(0), OutputResult: value.Int(1)},
		{NodeName: "body", CurrentIndex: ptr(1), OutputResult: value.Int(2)},
	}
	endLoop := &playbook.EndLoopSpec{
		Result: value.Map(map[string]value.Value{"total": value.String("{{ loop_results | to_json }}")}),
	}
	out, err := Aggregate(r, "process", events, endLoop, value.Map(nil))
	require.NoError(t, err)
	total, ok := out.Get("total")
	require.True(t, ok)
	assert.Equal(t, "[1,2]", total.String())
}

func TestAggregateWithoutResultTemplateReturnsRawList(t *testing.T) {
	r := render.New()
	events := []model.Event{{NodeName: "body", OutputResult: value.String("a")}}
	out, err := Aggregate(r, "process", events, nil, value.Map(nil))
	require.NoError(t, err)
	list, ok := out.List()
	require.True(t, ok)
	assert.Len(t, list, 1)
}
