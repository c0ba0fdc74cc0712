package workflow

import (
	"context"
	"fmt"

	"atticqueue/internal/artifact"
	"atticqueue/internal/resolver"
)

// TaskKind names a Task variant.
type TaskKind string

const (
	KindResolve TaskKind = "resolve"
	KindUpload  TaskKind = "upload"
)

// Task is a unit of work. Only ResolveTask and UploadTask implement it.
type Task interface {
	Kind() TaskKind
	Target() artifact.Path
	task()
}

// ResolveTask expands a root into queued closure members.
type ResolveTask struct {
	Root artifact.Path
}

func (ResolveTask) Kind() TaskKind          { return KindResolve }
func (t ResolveTask) Target() artifact.Path { return t.Root }
func (ResolveTask) task()                   {}

// UploadTask claims and uploads one queued entry.
type UploadTask struct {
	Path artifact.Path
}

func (UploadTask) Kind() TaskKind          { return KindUpload }
func (t UploadTask) Target() artifact.Path { return t.Path }
func (UploadTask) task()                   {}

// TaskResult is what Execute reports for one task.
type TaskResult struct {
	Kind    TaskKind
	Target  artifact.Path
	Resolve resolver.Result
	Outcome Outcome
}

// Resolver expands roots.
type Resolver interface {
	Resolve(ctx context.Context, root artifact.Path) (resolver.Result, error)
}

// Executor runs tasks of either kind.
type Executor struct {
	resolver Resolver
	worker   *Worker
}

// NewExecutor constructs an Executor.
func NewExecutor(res Resolver, worker *Worker) *Executor {
	return &Executor{resolver: res, worker: worker}
}

// Execute runs task. Upload tasks never fail; their result is in Outcome.
func (e *Executor) Execute(ctx context.Context, task Task) (TaskResult, error) {
	switch t := task.(type) {
	case ResolveTask:
		if e.resolver == nil {
			return TaskResult{}, fmt.Errorf("execute %s: no resolver configured", t.Kind())
		}
		res, err := e.resolver.Resolve(ctx, t.Root)
		return TaskResult{Kind: KindResolve, Target: t.Root, Resolve: res}, err
	case UploadTask:
		if e.worker == nil {
			return TaskResult{}, fmt.Errorf("execute %s: no worker configured", t.Kind())
		}
		return TaskResult{Kind: KindUpload, Target: t.Path, Outcome: e.worker.Upload(ctx, t.Path)}, nil
	default:
		return TaskResult{}, fmt.Errorf("execute: unsupported task %T", task)
	}
}
