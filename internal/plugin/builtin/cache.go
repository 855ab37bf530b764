// Package builtin holds the plugins every deploy registers around the
// third-party ones: cache policy first, header rules next, logging last.
package builtin

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/sitedeploy/internal/cachepolicy"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/siteconfig"
)

// durationSnapshot is the cache-duration value captured at preDeploy
type durationSnapshot struct {
	value   any
	present bool
}

func (d durationSnapshot) Get(key string) (any, bool) {
	if key != siteconfig.KeyCacheDuration {
		return nil, false
	}
	return d.value, d.present
}

// CacheDuration re-applies the cache policy from inside the hook chain so
// plugins registered after it can rely on (or override) an established
// cache-control. The config is read once per batch in preDeploy.
type CacheDuration struct {
	resolver cachepolicy.Resolver
	snap     atomic.Pointer[durationSnapshot]
}

func NewCacheDuration(r cachepolicy.Resolver) *CacheDuration {
	return &CacheDuration{resolver: r}
}

const CacheDurationName = "builtin.cache-duration"

func (c *CacheDuration) Plugin() plugin.Plugin {
	return plugin.FromObject(CacheDurationName, c)
}

func (c *CacheDuration) PreDeploy(_ context.Context, site plugin.Site) error {
	var snap durationSnapshot
	if cfg := site.Config(); cfg != nil {
		snap.value, snap.present = cfg.Get(siteconfig.KeyCacheDuration)
	}
	// surface a bad value once per batch instead of once per file
	if _, err := c.resolver.Expiration(false, snap); err != nil {
		return err
	}
	c.snap.Store(&snap)
	return nil
}

// PreDeployFile leaves headers alone when preDeploy never ran for this batch
func (c *CacheDuration) PreDeployFile(_ context.Context, f plugin.File) error {
	snap := c.snap.Load()
	if snap == nil {
		return nil
	}
	cc, _, err := c.resolver.Resolve(f.IsFingerprinted(), *snap)
	if err != nil {
		return err
	}
	f.Headers().Set(headers.CacheControl, cc)
	return nil
}
