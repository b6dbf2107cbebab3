package terminal

import (
	"bytes"
	"regexp"
	"sync"
	"time"

	"github.com/termbridge/termbridge/internal/models"
)

// tailWindow is how many trailing bytes of output the heuristic inspects
const tailWindow = 200

// Classifier decides whether a session's trailing output looks like a prompt.
// It is a pluggable strategy so the heuristic can be replaced without
// touching the detector state machine.
type Classifier interface {
	// Classify returns true when the tail ends at a prompt (the shell is idle)
	Classify(tail []byte) bool
}

// ansiRe strips escape sequences before the prompt patterns run, since real
// prompts are usually colored
var ansiRe = regexp.MustCompile(`\x1b(\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07|[()][A-Z0-9])`)

// PromptClassifier matches the final output line against an ordered list of
// prompt shapes: shell prompts, REPL prompts, confirmation prompts, and
// trailing colon/question prompts.
type PromptClassifier struct {
	patterns []*regexp.Regexp
}

// NewPromptClassifier returns the default prompt heuristic
func NewPromptClassifier() *PromptClassifier {
	return &PromptClassifier{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`[$#%❯›>]\s?$`),       // shell prompts: $, #, %, ❯, >
			regexp.MustCompile(`^>>>\s?$|>>>\s?$`),    // python REPL
			regexp.MustCompile(`^In \[\d+\]:\s?$`),    // ipython
			regexp.MustCompile(`\(y/n\)[?:]?\s?$`),    // yes/no confirmation
			regexp.MustCompile(`\[[yYnN]/[yYnN]\]\s?$`), // [y/N] confirmation
			regexp.MustCompile(`[?:]\s$`),             // trailing colon/question prompt
		},
	}
}

func (c *PromptClassifier) Classify(tail []byte) bool {
	line := finalLine(tail)
	if len(line) == 0 {
		return false
	}
	for _, re := range c.patterns {
		if re.Match(line) {
			return true
		}
	}
	return false
}

// finalLine extracts the last non-empty line of the tail, escape codes removed
func finalLine(tail []byte) []byte {
	clean := ansiRe.ReplaceAll(tail, nil)
	clean = bytes.ReplaceAll(clean, []byte("\r"), nil)
	lines := bytes.Split(clean, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := bytes.TrimRight(lines[i], " \t"); len(trimmed) > 0 {
			return lines[i]
		}
	}
	return nil
}

// detectorMode is the two-mode state machine over activity detection. The
// transition from heuristic to externally-controlled is one-way: once any
// external event speaks for a session, the output heuristic stays silenced so
// the two signals never race.
type detectorMode int

const (
	modeHeuristic detectorMode = iota
	modeExternal
)

// Detector tracks a session's activity state and task sub-state. A session
// enters at busy: a shell is assumed busy until it shows a prompt.
type Detector struct {
	mu         sync.Mutex
	mode       detectorMode
	state      models.ActivityState
	task       models.TaskStatus
	classifier Classifier
	// notify fans a state-change notification out to clients and persistence
	notify func(models.ActivityState, models.TaskStatus)
}

// NewDetector creates a detector in heuristic mode, starting at busy
func NewDetector(classifier Classifier, notify func(models.ActivityState, models.TaskStatus)) *Detector {
	if classifier == nil {
		classifier = NewPromptClassifier()
	}
	return &Detector{
		state:      models.ActivityBusy,
		classifier: classifier,
		notify:     notify,
	}
}

// State returns the current activity state
func (d *Detector) State() models.ActivityState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Task returns a snapshot of the task sub-state
func (d *Detector) Task() models.TaskStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.task
}

// ExternallyControlled reports whether external events have taken over
func (d *Detector) ExternallyControlled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode == modeExternal
}

// OnOutput re-evaluates the heuristic against the trailing output. Called on
// every chunk; a no-op once externally controlled or exited.
func (d *Detector) OnOutput(tail []byte) {
	d.mu.Lock()
	if d.mode == modeExternal || d.state == models.ActivityExited {
		d.mu.Unlock()
		return
	}

	next := models.ActivityBusy
	if d.classifier.Classify(tail) {
		next = models.ActivityIdle
	}
	if next == d.state {
		d.mu.Unlock()
		return
	}
	d.state = next
	d.emitLocked()
	return
}

// ApplyHook processes a discrete external event. The first event permanently
// switches the detector to external control for the rest of the process
// lifetime.
func (d *Detector) ApplyHook(ev models.HookEvent) {
	d.mu.Lock()
	if d.state == models.ActivityExited {
		d.mu.Unlock()
		return
	}
	d.mode = modeExternal

	now := time.Now()
	switch ev.Event {
	case models.HookPromptSubmit:
		d.state = models.ActivityBusy
		d.task = models.TaskStatus{StartedAt: &now}
	case models.HookPreToolUse:
		d.state = models.ActivityBusy
		tool := ev.ToolName
		d.task.CurrentTool = &tool
		d.task.ToolUseCount++
		if d.task.StartedAt == nil {
			d.task.StartedAt = &now
		}
		d.task.CompletedAt = nil
	case models.HookPostToolUse:
		d.state = models.ActivityBusy
		d.task.CurrentTool = nil
	case models.HookNotification, models.HookStop:
		d.state = models.ActivityIdle
		d.task.CurrentTool = nil
		d.task.CompletedAt = &now
	case models.HookSessionEnd:
		// the session terminates the process; the exit event flips state
		d.task.CurrentTool = nil
		d.task.CompletedAt = &now
	}
	if ev.TokenCount > 0 {
		d.task.TokenCount = ev.TokenCount
	}
	d.emitLocked()
}

// MarkExited records process exit; the only path into the exited state
func (d *Detector) MarkExited() {
	d.mu.Lock()
	if d.state == models.ActivityExited {
		d.mu.Unlock()
		return
	}
	d.state = models.ActivityExited
	d.task.CurrentTool = nil
	if d.task.CompletedAt == nil {
		now := time.Now()
		d.task.CompletedAt = &now
	}
	d.emitLocked()
}

// emitLocked releases the lock and fires the notification with a snapshot.
// Callers must hold d.mu; it is unlocked on return.
func (d *Detector) emitLocked() {
	state := d.state
	task := d.task
	notify := d.notify
	d.mu.Unlock()

	if notify != nil {
		notify(state, task)
	}
}
