package reconciler

import (
	"time"
)

// ImportStage names a step of the upload pipeline
type ImportStage string

const (
	StageDecoding   ImportStage = "decoding"
	StageValidating ImportStage = "validating"
	StageFiltering  ImportStage = "filtering"
	StageMatching   ImportStage = "matching"
	StageApplying   ImportStage = "applying"
	StageDone       ImportStage = "done"
	StageFailed     ImportStage = "failed"
)

var stageOrder = map[ImportStage]int{
	StageDecoding:   1,
	StageValidating: 2,
	StageFiltering:  3,
	StageMatching:   4,
	StageApplying:   5,
	StageDone:       6,
}

const totalStages = 6

// ImportProgress tracks the progress of one StartImport call
type ImportProgress struct {
	ImportID        string        `json:"import_id"`
	Stage           ImportStage   `json:"stage"`
	Detail          string        `json:"detail,omitempty"`
	CompletedSteps  int           `json:"completed_steps"`
	TotalSteps      int           `json:"total_steps"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`

	TotalBytes int `json:"total_bytes"`
	Decoded    int `json:"decoded"`
	Retained   int `json:"retained"`
	Matched    int `json:"matched"`
}

// ProgressCallback is called each time an import enters a new stage
type ProgressCallback func(*ImportProgress)

// AddProgressCallback adds a progress callback function. Callbacks should be
// registered before imports start.
func (m *Manager) AddProgressCallback(callback ProgressCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progressCallbacks = append(m.progressCallbacks, callback)
}

func newImportProgress(importID string) *ImportProgress {
	return &ImportProgress{
		ImportID:   importID,
		TotalSteps: totalStages,
		StartTime:  time.Now(),
	}
}

func (m *Manager) reportProgress(progress *ImportProgress, stage ImportStage, detail string) {
	progress.Stage = stage
	progress.Detail = detail
	progress.ElapsedTime = time.Since(progress.StartTime)

	// a failure keeps the step count where it stopped
	if step, ok := stageOrder[stage]; ok {
		progress.CompletedSteps = step - 1
		if stage == StageDone {
			progress.CompletedSteps = totalStages
		}
	}
	progress.PercentComplete = float64(progress.CompletedSteps) / float64(progress.TotalSteps) * 100

	m.mu.Lock()
	callbacks := append([]ProgressCallback(nil), m.progressCallbacks...)
	m.mu.Unlock()

	snapshot := *progress
	for _, callback := range callbacks {
		callback(&snapshot)
	}
}
