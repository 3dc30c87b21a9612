// Package build carries compile-time release metadata shared by every
// package in the module: which Release is running and a Critical helper
// for reporting violated invariants.
package build

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Release identifies which build is running. It is a var, not a const, so
// that it can be overridden with -ldflags at build time or from tests.
var Release = "standard"

// DEBUG controls whether Critical panics after reporting an invariant
// violation. It defaults to false so a misbehaving production worker
// degrades rather than crashes. Nothing in the module sets it; a caller or
// test may set it to true.
var DEBUG = false

// Critical should be called when a sanity check has failed, indicating a
// bug in this module rather than caller error. It writes the message and a
// stack trace to stderr unless Release is "testing", and it panics only
// when DEBUG is set.
func Critical(v ...interface{}) {
	s := "Critical error: " + fmt.Sprintln(v...)
	if Release != "testing" {
		debug.PrintStack()
		os.Stderr.WriteString(s)
	}
	if DEBUG {
		panic(s)
	}
}
