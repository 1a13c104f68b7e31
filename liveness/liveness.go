// Package liveness names execution contexts and answers whether one is still running.
package liveness

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const contextPrefix = "ctx-"

// Checker reports whether the context that owns id is still alive.
type Checker interface {
	Alive(id string) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(id string) bool

func (f CheckerFunc) Alive(id string) bool { return f(id) }

// NewContextID returns an identifier for the current process, unique per call.
func NewContextID() string {
	return fmt.Sprintf("%s%d-%s", contextPrefix, os.Getpid(), uuid.NewString()[:8])
}

// PIDFromContextID extracts the process id encoded by NewContextID.
func PIDFromContextID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), contextPrefix)
	if !ok {
		return 0, false
	}
	pidPart, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, false
	}
	pid, err := strconv.Atoi(pidPart)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// ProcessChecker treats a context as alive while its process exists.
type ProcessChecker struct{}

func (ProcessChecker) Alive(id string) bool {
	pid, ok := PIDFromContextID(id)
	if !ok {
		return false
	}
	if pid == os.Getpid() {
		return true
	}
	return processAlive(pid)
}
