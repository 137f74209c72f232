// Package build implements the per-device build state machine: a build
// carries a stack of stages, each stage a stack of tasks. Mutations never
// fail; unbalanced pop requests from remote callers (duplicate messages,
// reconnects) degrade to no-ops instead of faulting.
package build

import (
	"time"

	"github.com/devicelab/bridge/internal/model"
)

// UnknownStageName is the name of the stage synthesized when a task is
// pushed while no stage is open.
const UnknownStageName = "<Unknown stage>"

// Event actions emitted by build mutations.
const (
	ActionPushStage = "pushStage"
	ActionPopStage  = "popStage"
	ActionPushTask  = "pushTask"
	ActionPopTask   = "popTask"
	ActionResult    = "result"
)

// Task is a single unit of progress inside a stage.
type Task struct {
	Name  string
	Start time.Time
}

// Stage is a named phase of a build holding a stack of tasks.
type Stage struct {
	Name  string
	Start time.Time
	Tasks []Task
}

// history holds the stage stack behind a pointer so that a cloned build
// shares it with the original. Mutations through either build are visible
// in both; this is intentional shared ownership, used to rehydrate a build
// without resetting its progress.
type history struct {
	stages []*Stage
}

// Notifier receives change notifications from a build. The build only
// produces events; it knows nothing about subscribers or routing.
type Notifier func(action string, payload any)

// Build tracks one device's active build. Callers must serialize mutations
// per device; the stack operations are not safe for concurrent use.
type Build struct {
	device string
	name   string
	link   string
	start  time.Time
	result *bool
	hist   *history
	notify Notifier

	// now is stubbed in tests.
	now func() time.Time
}

// New creates a build for the given device. notify may be nil, in which
// case change notifications are discarded.
func New(device, name, link string, notify Notifier) *Build {
	b := &Build{
		device: device,
		name:   name,
		link:   link,
		hist:   &history{},
		notify: notify,
		now:    time.Now,
	}
	b.start = b.now()
	return b
}

// Clone returns a fresh build sharing this build's stage/task history by
// reference. The clone gets its own result field and a copy of the start
// time, so rehydrating state does not reset progress. Because the history
// is shared, stage and task mutations through either build are visible in
// the other.
func (b *Build) Clone() *Build {
	return &Build{
		device: b.device,
		name:   b.name,
		link:   b.link,
		start:  b.start,
		hist:   b.hist,
		notify: b.notify,
		now:    b.now,
	}
}

// Device returns the identifier of the device this build belongs to.
func (b *Build) Device() string { return b.device }

// Name returns the build's display name.
func (b *Build) Name() string { return b.name }

// Result returns the build result: nil while in progress.
func (b *Build) Result() *bool { return b.result }

// SetLink updates the build's CI link without emitting an event.
func (b *Build) SetLink(link string) { b.link = link }

// SetNotifier replaces the build's change notification sink.
func (b *Build) SetNotifier(notify Notifier) { b.notify = notify }

// PushStage opens a new stage at the tail of the stage stack and returns it.
func (b *Build) PushStage(name string) *Stage {
	stage := &Stage{Name: name, Start: b.now()}
	b.hist.stages = append(b.hist.stages, stage)
	b.emit(ActionPushStage, stageView(stage))
	return stage
}

// PopStage closes the tail stage. Popping with no open stage is a silent
// no-op: the likely cause is a stale or duplicate client message, and
// failing would cascade instead of recovering.
func (b *Build) PopStage() {
	if len(b.hist.stages) == 0 {
		return
	}
	b.hist.stages = b.hist.stages[:len(b.hist.stages)-1]
	b.emit(ActionPopStage, nil)
}

// PushTask starts a new task in the current stage. If no stage is open, a
// stage named UnknownStageName is synthesized first so that task tracking
// never fails merely because the caller forgot to open a stage; the
// synthesis emits its own pushStage event.
func (b *Build) PushTask(name string) *Task {
	stage := b.currentStage()
	if stage == nil {
		stage = b.PushStage(UnknownStageName)
	}
	stage.Tasks = append(stage.Tasks, Task{Name: name, Start: b.now()})
	task := &stage.Tasks[len(stage.Tasks)-1]
	b.emit(ActionPushTask, taskView(task))
	return task
}

// PopTask finishes the tail task of the current stage. A no-op unless both
// a stage and a task exist.
func (b *Build) PopTask() {
	stage := b.currentStage()
	if stage == nil || len(stage.Tasks) == 0 {
		return
	}
	stage.Tasks = stage.Tasks[:len(stage.Tasks)-1]
	b.emit(ActionPopTask, nil)
}

// SetResult records the final result. This does not end the build; the
// owner detaches it separately once the result has been reported.
func (b *Build) SetResult(result bool) {
	b.result = &result
	b.emit(ActionResult, result)
}

// Snapshot projects the build for observers: only the currently open stage
// and currently running task are included, each as name and start time.
func (b *Build) Snapshot() model.BuildView {
	view := model.BuildView{
		Device: b.device,
		Name:   b.name,
		Link:   b.link,
		Start:  b.start,
	}
	if b.result != nil {
		result := *b.result
		view.Result = &result
	}
	if stage := b.currentStage(); stage != nil {
		view.Stage = stageView(stage)
		if len(stage.Tasks) > 0 {
			view.Task = taskView(&stage.Tasks[len(stage.Tasks)-1])
		}
	}
	return view
}

func (b *Build) currentStage() *Stage {
	if len(b.hist.stages) == 0 {
		return nil
	}
	return b.hist.stages[len(b.hist.stages)-1]
}

func (b *Build) emit(action string, payload any) {
	if b.notify != nil {
		b.notify(action, payload)
	}
}

func stageView(s *Stage) *model.StageView {
	return &model.StageView{Name: s.Name, Start: s.Start}
}

func taskView(t *Task) *model.TaskView {
	return &model.TaskView{Name: t.Name, Start: t.Start}
}
