package gofat32

import "github.com/golang/glog"

// verboseLevel mirrors the original kernel's console_stream verbose(false):
// mount diagnostics (logMount) are not printed by default and only show up
// at -v=1 or higher. Warnings (logWarn) are always logged.
const verboseLevel = glog.Level(1)

func logMount(format string, args ...interface{}) {
	if glog.V(verboseLevel) {
		glog.Infof(format, args...)
	}
}

func logWarn(format string, args ...interface{}) {
	glog.Warningf(format, args...)
}
