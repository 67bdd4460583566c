package depgraph

// Engine is the public surface of §6: the four operations a runtime calls
// around a task's lifetime, closed over one set of collaborator hooks.
type Engine struct {
	hooks *Hooks
}

// NewEngine returns an Engine reporting through hooks. A nil hooks is
// replaced with a no-op sink and no queue callbacks.
func NewEngine(hooks *Hooks) *Engine {
	if hooks == nil {
		hooks = defaultHooks()
	}
	return &Engine{hooks: hooks}
}

// RegisterTaskAccesses implements register_task_accesses(task, cp): it runs
// declare to let the caller register every access the task will make (via
// RegisterTaskAccess), links the task against its parent's bottom map, and
// reports whether the task has no strong unsatisfied predecessor.
func (e *Engine) RegisterTaskAccesses(task *Task, declare func(*Task) error) (ready bool, err error) {
	if declare != nil {
		if err := declare(task); err != nil {
			return false, err
		}
	}
	if err := LinkTaskAccesses(task, e.hooks); err != nil {
		return false, err
	}
	return task.PredecessorCount() == 0, nil
}

// UnregisterTaskAccesses implements unregister_task_accesses(task, cp),
// called once the task's own body has finished running.
func (e *Engine) UnregisterTaskAccesses(task *Task) error {
	return UnregisterTaskAccesses(task, e.hooks)
}

// HandleTaskRemoval implements handle_task_removal(task, cp), called once
// the task is removable and the runtime is ready to reclaim it.
func (e *Engine) HandleTaskRemoval(task *Task) error {
	return HandleTaskRemoval(task, e.hooks)
}

// HandleEnterBlocking implements handle_enter_blocking(task) (§14): the
// task has parked on a user mutex or a taskwait, so it cannot be considered
// removable until it resumes.
func (e *Engine) HandleEnterBlocking(task *Task) {
	task.blockingDepth.Add(1)
	task.removalBlockingCount.Add(1)
}

// HandleExitBlocking implements handle_exit_blocking(task) (§14), the
// inverse of HandleEnterBlocking. A task may block and unblock several
// times (nested taskwaits); blockingDepth tracks the nesting so a stray
// extra exit call cannot drive removalBlockingCount negative.
func (e *Engine) HandleExitBlocking(task *Task) {
	if task.blockingDepth.Load() <= 0 {
		return
	}
	task.blockingDepth.Add(-1)
	if task.removalBlockingCount.Add(-1) == 0 && task.accesses.removalCountdown.Load() == 0 {
		e.hooks.sink().Removable(task)
		e.hooks.removable(task)
	}
}
