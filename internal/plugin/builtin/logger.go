package builtin

import (
	"context"

	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
)

const HeaderLoggerName = "builtin.header-logger"

// HeaderLogger registers last and logs the headers each file will be uploaded with
func HeaderLogger(l log.Logger) plugin.Plugin {
	if l == nil {
		l = log.Nop()
	}
	return plugin.Plugin{
		Name: HeaderLoggerName,
		Hooks: plugin.Hooks{
			PreDeployFile: func(ctx context.Context, f plugin.File) error {
				l.Debug(ctx, "final upload headers",
					"key", f.Path(),
					"fingerprinted", f.IsFingerprinted(),
					"headers", f.Headers().Map(),
				)
				return nil
			},
		},
	}
}
