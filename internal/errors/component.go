package errors

import (
	"runtime"
	"strings"
)

const errorsPackagePath = "github.com/tphakala/audiosrc/internal/errors."

// componentPackages maps package path fragments to component names, most
// specific first.
var componentPackages = []struct {
	fragment  string
	component string
}{
	{"internal/audiocore/sources/malgo", "audiocore.malgo"},
	{"internal/audiocore/sources/synthetic", "audiocore.synthetic"},
	{"internal/audiocore/sources", "audiocore.sources"},
	{"internal/audiocore/wavsink", "audiocore.wavsink"},
	{"internal/audiocore", "audiocore"},
	{"internal/capture", "capture"},
	{"internal/mqtt", "mqtt"},
	{"internal/conf", "configuration"},
	{"internal/observability", "observability"},
	{"internal/privacy", "privacy"},
	{"audiosrc/cmd", "cmd"},
}

// callerComponent walks the stack above Build to the first known package.
func callerComponent() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, errorsPackagePath) {
			if c := componentForFunc(frame.Function); c != ComponentUnknown {
				return c
			}
		}
		if !more {
			return ComponentUnknown
		}
	}
}

func componentForFunc(funcName string) string {
	for _, p := range componentPackages {
		if strings.Contains(funcName, p.fragment) {
			return p.component
		}
	}
	return ComponentUnknown
}
