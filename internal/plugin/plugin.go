// Package plugin runs the deploy lifecycle hooks. A Plugin supplies only the
// hooks it cares about; the Manager calls every supplied hook for an event
// in registration order and stops at the first error.
package plugin

import (
	"context"

	"github.com/keithlinneman/sitedeploy/internal/headers"
)

type Event string

const (
	EventPreDeploy      Event = "preDeploy"
	EventPreDeployFile  Event = "preDeployFile"
	EventPostDeployFile Event = "postDeployFile"
	EventPostDeploy     Event = "postDeploy"
)

// Config is the read-only site configuration visible to hooks
type Config interface {
	Get(key string) (any, bool)
}

// Site is the batch-wide context handed to preDeploy and postDeploy
type Site interface {
	BuildDir() string
	Config() Config
}

// File is the artifact handed to preDeployFile and postDeployFile. Headers
// may be read and mutated in place during the call; hooks must not keep
// the pointer after returning.
type File interface {
	Path() string
	FullPath() string
	IsFingerprinted() bool
	Headers() *headers.Headers
}

// Summary is what postDeploy observes about the finished batch
type Summary struct {
	DeployID string
	Uploaded int
	Skipped  int
	Failed   int
}

// Hooks holds one optional closure per event. A nil field means the plugin
// does not implement that event and is skipped for it.
type Hooks struct {
	PreDeploy      func(ctx context.Context, site Site) error
	PreDeployFile  func(ctx context.Context, f File) error
	PostDeployFile func(ctx context.Context, f File) error
	PostDeploy     func(ctx context.Context, site Site, s Summary) error
}

type Plugin struct {
	Name string
	Hooks
}

// Implements reports whether p supplies a hook for ev
func (p Plugin) Implements(ev Event) bool {
	switch ev {
	case EventPreDeploy:
		return p.PreDeploy != nil
	case EventPreDeployFile:
		return p.PreDeployFile != nil
	case EventPostDeployFile:
		return p.PostDeployFile != nil
	case EventPostDeploy:
		return p.PostDeploy != nil
	}
	return false
}

// Optional method sets recognized by FromObject
type (
	PreDeployer interface {
		PreDeploy(ctx context.Context, site Site) error
	}
	PreDeployFiler interface {
		PreDeployFile(ctx context.Context, f File) error
	}
	PostDeployFiler interface {
		PostDeployFile(ctx context.Context, f File) error
	}
	PostDeployer interface {
		PostDeploy(ctx context.Context, site Site, s Summary) error
	}
)

// FromObject builds a Plugin from whichever hook methods v implements.
// A value implementing none of them yields a plugin that every event skips.
func FromObject(name string, v any) Plugin {
	p := Plugin{Name: name}
	if h, ok := v.(PreDeployer); ok {
		p.PreDeploy = h.PreDeploy
	}
	if h, ok := v.(PreDeployFiler); ok {
		p.PreDeployFile = h.PreDeployFile
	}
	if h, ok := v.(PostDeployFiler); ok {
		p.PostDeployFile = h.PostDeployFile
	}
	if h, ok := v.(PostDeployer); ok {
		p.PostDeploy = h.PostDeploy
	}
	return p
}
