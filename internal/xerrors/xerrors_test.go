package xerrors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackContains(pcs []uintptr, substr string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, substr) {
			return true
		}
		if !more {
			return false
		}
	}
}

func funcForPC(pc uintptr) string {
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function
}

// New / Newf

func TestNew_Message(t *testing.T) {
	err := New("bucket missing")
	if err.Error() != "bucket missing" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNew_StackStartsAtCaller(t *testing.T) {
	err := New("boom")

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New error should expose StackPCs")
	}
	if !stackContains(hs.StackPCs(), "TestNew_StackStartsAtCaller") {
		t.Fatal("stack should contain the calling test")
	}
	if stackContains(hs.StackPCs(), "xerrors.attach") {
		t.Fatal("stack should not contain xerrors internals")
	}
}

func TestNewf_WrapsVerb(t *testing.T) {
	err := Newf("upload %s: %w", "index.html", errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("Newf with %w should unwrap to the wrapped error")
	}
	if err.Error() != "upload index.html: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

// Wrap / Wrapf

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	err := Wrap(errSentinel, "put object")
	if err.Error() != "put object: sentinel" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, errSentinel) {
		t.Fatal("Wrap should preserve errors.Is")
	}
}

func TestWrapf_RecordsCallerPC(t *testing.T) {
	err := Wrapf(errSentinel, "key %s", "a.css")

	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf should expose PC")
	}
	if fn := funcForPC(hp.PC()); !strings.Contains(fn, "TestWrapf_RecordsCallerPC") {
		t.Fatalf("PC points at %q, want the test function", fn)
	}
}

// WithStack / EnsureTrace

func TestWithStack_Nil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestEnsureTrace_KeepsExistingStack(t *testing.T) {
	orig := New("first")
	got := EnsureTrace(orig)
	if got != orig {
		t.Fatal("EnsureTrace should return an already-stacked error unchanged")
	}
}

func TestEnsureTrace_AddsStack(t *testing.T) {
	plain := fmt.Errorf("plain")
	got := EnsureTrace(plain)

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(got, &hs) || len(hs.StackPCs()) == 0 {
		t.Fatal("EnsureTrace should attach a stack")
	}
	if !errors.Is(got, plain) {
		t.Fatal("EnsureTrace should preserve the original error")
	}
}
