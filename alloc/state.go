package alloc

import (
	"io"
	"log/slog"
	"os"
)

// debugBuild gates the lifecycle-state assertions and leak-scanning
// diagnostics described in spec.md §4.3/§4.4. This is the Go analogue
// of the original's #ifndef NDEBUG: a compile-time constant rather than
// a build tag, so that flipping it requires no separate build, matching
// hive/alloc/fastalloc.go's debugAlloc const.
const debugBuild = true

// lifecycleState tracks the NotInitialized -> Initialized -> Destroyed
// machine spec.md §4.3 specifies for each pool, checked only when
// debugBuild is true.
type lifecycleState uint8

const (
	stateNotInitialized lifecycleState = iota
	stateInitialized
	stateDestroyed
)

// logAllocEnabled, parallel to hivekit's HIVE_LOG_ALLOC, enables verbose
// per-call tracing on the allocation hot path without a rebuild.
var logAllocEnabled = os.Getenv("USERALLOC_LOG_ALLOC") != ""

// defaultLogger discards everything unless SetLogger installs a real
// handler, matching cmd/hiveexplorer/logger.go's opt-in slog setup.
var defaultLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var pkgLogger = defaultLogger

// SetLogger installs l as the logger used for debug-build diagnostics
// (leak reports) and, when USERALLOC_LOG_ALLOC is set, allocation
// tracing. Passing nil restores the discarding default.
func SetLogger(l *slog.Logger) {
	if l == nil {
		pkgLogger = defaultLogger
		return
	}
	pkgLogger = l
}

func logger() *slog.Logger {
	return pkgLogger
}
