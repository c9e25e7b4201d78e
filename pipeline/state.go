package pipeline

import (
	"fmt"

	"github.com/gmlewis/msla/internal/logging"
)

// State is a step in a decode, encode or partial save.
type State int

const (
	Idle State = iota
	HeaderRead
	LayersInitialized
	LayersPopulated
	MetadataOnly
	HeaderWritten
	LayersWritten
	FooterWritten
	Patched
	Done
	Failed
)

var stateNames = [...]string{
	Idle:              "Idle",
	HeaderRead:        "HeaderRead",
	LayersInitialized: "LayersInitialized",
	LayersPopulated:   "LayersPopulated",
	MetadataOnly:      "MetadataOnly",
	HeaderWritten:     "HeaderWritten",
	LayersWritten:     "LayersWritten",
	FooterWritten:     "FooterWritten",
	Patched:           "Patched",
	Done:              "Done",
	Failed:            "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("pipeline.State(%d)", int(s))
}

// Tracer logs the state transitions of one operation on one file.
type Tracer struct {
	Format string
	Path   string
	State  State
}

// NewTracer starts a trace in the Idle state.
func NewTracer(format, path string) *Tracer {
	return &Tracer{Format: format, Path: path}
}

// To moves to state s.
func (t *Tracer) To(s State) {
	logging.Debug("%v %v: %v -> %v", t.Format, t.Path, t.State, s)
	t.State = s
}

// Fail records err and returns it unchanged, so callers can write
// `return tr.Fail(err)`.
func (t *Tracer) Fail(err error) error {
	logging.Debug("%v %v: %v -> %v: %v", t.Format, t.Path, t.State, Failed, err)
	t.State = Failed
	return err
}
