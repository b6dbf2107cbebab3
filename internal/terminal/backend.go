package terminal

// procEventKind tags events flowing from a backend to its session worker
type procEventKind int

const (
	evData procEventKind = iota
	evExit
)

// procEvent is one backend event: either an output chunk or process exit
type procEvent struct {
	kind procEventKind
	data []byte
	code int
}

// eventBufferSize bounds the per-session backend event channel
const eventBufferSize = 256

// Backend owns one interactive process: spawning it, feeding it input, and
// resizing or killing it. Output and exit are delivered as tagged events on
// the channel handed to Start; a single session worker consumes them so
// chunks from the same process are never reordered.
type Backend interface {
	Start(events chan<- procEvent) error
	Write(p []byte) (int, error)
	Resize(cols, rows uint16) error
	Kill() error
}
