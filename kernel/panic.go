package kernel

import (
	"log"
	"os"

	"github.com/akakdndjsjdndnsndmdm/Fusion-OS/kernel/cpu"
)

// panicLog is the logger used by Panic. Tests replace Out to capture output
// without touching the real process.
var panicLog = log.New(os.Stderr, "[kernel] ", 0)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic logs the supplied error (if not nil) and halts the current CPU.
// Calls to Panic never return control to the caller.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	if err != nil {
		panicLog.Printf("unrecoverable error in %q: %s", err.Module, err.Message)
	}
	panicLog.Print("kernel panic: system halted")

	cpuHaltFn()
}

// panicString wraps a bare string cause in an *Error before delegating to Panic.
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
