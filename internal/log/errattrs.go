package log

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

// errorChain lists distinct messages from outermost to root, then the
// members of an errors.Join at the top level
func errorChain(err error) []string {
	var out []string
	var prev string
	add := func(msg string) {
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		add(e.Error())
	}
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range m.Unwrap() {
			add(e.Error())
		}
	}
	return out
}

// errorLinks resolves each wrap in the chain to the code position that added it
func errorLinks(err error, max int) []map[string]any {
	var links []map[string]any
	for depth, e := 0, err; e != nil && depth < max; depth, e = depth+1, errors.Unwrap(e) {
		var fr runtime.Frame
		switch v := e.(type) {
		case hasPC:
			if v.PC() == 0 {
				continue
			}
			fr, _ = runtime.CallersFrames([]uintptr{v.PC()}).Next()
		case hasStack:
			frames := runtime.CallersFrames(v.StackPCs())
			for {
				f, more := frames.Next()
				if !internalFrame(f.Function) {
					fr = f
					break
				}
				if !more {
					break
				}
			}
		default:
			continue
		}
		if fr.Function == "" {
			continue
		}
		links = append(links, map[string]any{
			"msg":  e.Error(),
			"func": fr.Function,
			"file": fr.File,
			"line": fr.Line,
		})
	}
	return links
}

// surfaceType names the first error in the chain that is not a pure wrapper
func surfaceType(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if _, ok := e.(interface{ IsXerrorsWrapper() }); ok {
			continue
		}
		name := fmt.Sprintf("%T", e)
		if name == "*fmt.wrapError" || strings.HasSuffix(name, "fmt.wrapErrors") {
			continue
		}
		return name
	}
	return fmt.Sprintf("%T", err)
}
