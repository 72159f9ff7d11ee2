package orchestrator

import (
	"context"

	fserr "github.com/bleepstore/filestorage/internal/errors"
	"github.com/bleepstore/filestorage/internal/file"
)

// Phase is a point in the file lifecycle where hooks run.
type Phase int

const (
	BeforeSave Phase = iota
	AfterSave
	BeforeRemove
	AfterRemove

	numPhases
)

var phaseNames = [numPhases]string{
	BeforeSave:   "beforeSave",
	AfterSave:    "afterSave",
	BeforeRemove: "beforeRemove",
	AfterRemove:  "afterRemove",
}

// String returns the lifecycle name of the phase, e.g. "beforeSave".
func (p Phase) String() string {
	if !p.valid() {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) valid() bool { return p >= 0 && p < numPhases }

// Phases returns every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{BeforeSave, AfterSave, BeforeRemove, AfterRemove}
}

// ParsePhase maps a lifecycle name to its Phase. It fails with
// ErrInvalidHookType for any other name.
func ParsePhase(name string) (Phase, error) {
	for p, n := range phaseNames {
		if n == name {
			return Phase(p), nil
		}
	}
	return 0, fserr.ErrInvalidHookType.WithMessage("Type %s is invalid", name)
}

// Hook transforms a file at a lifecycle phase. The returned file is passed to
// the next hook; a nil file with a nil error leaves the input unchanged.
type Hook func(ctx context.Context, f *file.File) (*file.File, error)
