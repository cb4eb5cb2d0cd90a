package playbook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/noetl/noetl/common/db"
	"github.com/noetl/noetl/internal/model"
)

// Materializer persists the denormalized workflow/transition/workbook
// projection rows spec.md §4.E requires at execution_start, "upserting by
// natural key to be idempotent" so a re-run of the same materialize call
// (broker races, retried events) is a no-op past the first application.
type Materializer interface {
	Materialize(ctx context.Context, executionID string, pb *Playbook) error
}

// Rows flattens a Playbook into the three projection row sets, the pure
// part of materialization shared by every Materializer implementation.
func Rows(executionID string, pb *Playbook) ([]model.WorkflowStep, []model.Transition, []model.WorkbookTask) {
	steps := make([]model.WorkflowStep, 0, len(pb.Workflow))
	var transitions []model.Transition

	for _, s := range pb.Workflow {
		stepType := s.Type
		if stepType == "" && s.Loop != nil {
			stepType = "loop"
		}
		if stepType == "" && s.EndLoop != nil {
			stepType = "end_loop"
		}
		steps = append(steps, model.WorkflowStep{
			ExecutionID: executionID,
			StepID:      s.Name,
			StepName:    s.Name,
			StepType:    stepType,
			Description: s.Description,
			RawConfig:   s.Raw,
		})

		for _, nc := range s.Next {
			for _, target := range nc.Then {
				cond := nc.When
				if nc.Else {
					cond = "else"
				}
				transitions = append(transitions, model.Transition{
					ExecutionID: executionID,
					FromStep:    s.Name,
					ToStep:      target,
					Condition:   cond,
					WithParams:  s.With,
				})
			}
		}
	}

	tasks := make([]model.WorkbookTask, 0, len(pb.Workbook))
	for name, t := range pb.Workbook {
		tasks = append(tasks, model.WorkbookTask{
			ExecutionID: executionID,
			TaskID:      name,
			TaskName:    name,
			TaskType:    t.Type,
			RawConfig:   t.Raw,
		})
	}

	return steps, transitions, tasks
}

// PostgresMaterializer upserts the projection rows by natural key
// (execution_id, step_id) / (execution_id, from_step, to_step) /
// (execution_id, task_id), grounded on the teacher's common/repository
// upsert style (pgx, ON CONFLICT DO UPDATE). Schema (informational):
//
//	CREATE TABLE workflow (
//	  execution_id text, step_id text, step_name text, step_type text,
//	  description text, raw_config jsonb,
//	  PRIMARY KEY (execution_id, step_id)
//	);
//	CREATE TABLE transition (
//	  execution_id text, from_step text, to_step text,
//	  condition text, with_params jsonb,
//	  PRIMARY KEY (execution_id, from_step, to_step)
//	);
//	CREATE TABLE workbook (
//	  execution_id text, task_id text, task_name text, task_type text,
//	  raw_config jsonb,
//	  PRIMARY KEY (execution_id, task_id)
//	);
type PostgresMaterializer struct {
	db *db.DB
}

func NewPostgresMaterializer(database *db.DB) *PostgresMaterializer {
	return &PostgresMaterializer{db: database}
}

func (m *PostgresMaterializer) Materialize(ctx context.Context, executionID string, pb *Playbook) error {
	steps, transitions, tasks := Rows(executionID, pb)

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("playbook: materialize begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, s := range steps {
		raw, err := json.Marshal(s.RawConfig.Native())
		if err != nil {
			return fmt.Errorf("playbook: marshal step %s: %w", s.StepID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workflow (execution_id, step_id, step_name, step_type, description, raw_config)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (execution_id, step_id) DO UPDATE SET
				step_name = EXCLUDED.step_name,
				step_type = EXCLUDED.step_type,
				description = EXCLUDED.description,
				raw_config = EXCLUDED.raw_config
		`, executionID, s.StepID, s.StepName, s.StepType, s.Description, raw)
		if err != nil {
			return fmt.Errorf("playbook: upsert workflow row %s: %w", s.StepID, err)
		}
	}

	for _, t := range transitions {
		withParams, err := json.Marshal(t.WithParams.Native())
		if err != nil {
			return fmt.Errorf("playbook: marshal transition %s->%s: %w", t.FromStep, t.ToStep, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO transition (execution_id, from_step, to_step, condition, with_params)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (execution_id, from_step, to_step) DO UPDATE SET
				condition = EXCLUDED.condition,
				with_params = EXCLUDED.with_params
		`, executionID, t.FromStep, t.ToStep, t.Condition, withParams)
		if err != nil {
			return fmt.Errorf("playbook: upsert transition %s->%s: %w", t.FromStep, t.ToStep, err)
		}
	}

	for _, task := range tasks {
		raw, err := json.Marshal(task.RawConfig.Native())
		if err != nil {
			return fmt.Errorf("playbook: marshal task %s: %w", task.TaskID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO workbook (execution_id, task_id, task_name, task_type, raw_config)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (execution_id, task_id) DO UPDATE SET
				task_name = EXCLUDED.task_name,
				task_type = EXCLUDED.task_type,
				raw_config = EXCLUDED.raw_config
		`, executionID, task.TaskID, task.TaskName, task.TaskType, raw)
		if err != nil {
			return fmt.Errorf("playbook: upsert workbook row %s: %w", task.TaskID, err)
		}
	}

	return tx.Commit(ctx)
}

// MemoryMaterializer is an in-process Materializer for tests and for the
// no-database "single playbook, no persistence" embedding mode.
type MemoryMaterializer struct {
	Steps       []model.WorkflowStep
	Transitions []model.Transition
	Tasks       []model.WorkbookTask
}

func (m *MemoryMaterializer) Materialize(ctx context.Context, executionID string, pb *Playbook) error {
	steps, transitions, tasks := Rows(executionID, pb)
	m.Steps = append(m.Steps, steps...)
	m.Transitions = append(m.Transitions, transitions...)
	m.Tasks = append(m.Tasks, tasks...)
	return nil
}
