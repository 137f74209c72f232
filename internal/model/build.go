package model

import (
	"time"
)

// StageView is the observer projection of a build stage: name and start
// time only, no task detail.
type StageView struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// TaskView is the observer projection of a build task.
type TaskView struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
}

// BuildView is the immutable projection of a build that is sent to
// subscribers. Only the currently active stage and task are included;
// completed stages and tasks are intentionally dropped.
type BuildView struct {
	// Device is the identifier of the device the build is running on.
	Device string `json:"device"`

	// Name is the build's display name.
	Name string `json:"name"`

	// Link is an optional URL pointing at the build on the CI system.
	Link string `json:"link,omitempty"`

	// Start is when the build started.
	Start time.Time `json:"start"`

	// Stage is the currently open stage, or nil when none is open.
	Stage *StageView `json:"stage,omitempty"`

	// Task is the currently running task, or nil when none is running.
	Task *TaskView `json:"task,omitempty"`

	// Result is nil while the build is in progress, then true for success
	// or false for failure once set.
	Result *bool `json:"result,omitempty"`
}

// BuildActionRequest is the body of a build lifecycle ingestion call.
// Which fields are meaningful depends on the action: build-start uses
// BuildName and BuildLink, stage-push uses Stage, task-push uses Task,
// and build-stop uses Result.
type BuildActionRequest struct {
	Device    string `json:"device"`
	BuildName string `json:"build_name,omitempty"`
	BuildLink string `json:"build_link,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Task      string `json:"task,omitempty"`
	Result    *bool  `json:"result,omitempty"`
}
