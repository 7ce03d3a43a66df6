package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestSetVerbose(t *testing.T) {
	origLogf, origDebugf := Logf, Debugf
	defer func() { Logf, Debugf = origLogf, origDebugf }()

	var got []string
	SetLogger(func(format string, v ...interface{}) { got = append(got, fmt.Sprintf(format, v...)) })

	Debugf("hidden %d", 1)
	if len(got) != 0 {
		t.Fatalf("Debugf logged %q before SetVerbose(true)", got)
	}

	SetVerbose(true)
	Debugf("shown %d", 2)
	if len(got) != 1 || got[0] != "shown 2" {
		t.Errorf("got %q, want [\"shown 2\"]", got)
	}

	SetVerbose(false)
	Debugf("hidden %d", 3)
	if len(got) != 1 {
		t.Errorf("Debugf logged after SetVerbose(false): %q", got)
	}
}

func TestFunc(t *testing.T) {
	origLogf := Logf
	defer func() { Logf = origLogf }()

	var pkg, own int
	SetLogger(func(string, ...interface{}) { pkg++ })

	Func(nil)("x")
	Func(func(string, ...interface{}) { own++ })("y")

	if pkg != 1 || own != 1 {
		t.Errorf("pkg=%d own=%d, want 1 and 1", pkg, own)
	}

	// Func(nil) resolves Logf at call time, so later SetLogger calls apply.
	f := Func(nil)
	SetLogger(func(string, ...interface{}) { own += 10 })
	f("z")
	if own != 11 {
		t.Errorf("own = %d, want 11", own)
	}
}
