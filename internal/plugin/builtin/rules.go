package builtin

import (
	"context"
	"path"
	"sort"
	"sync/atomic"

	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// KeyHeaders maps glob patterns to headers in site config:
//
//	"headers": {"*.html": {"x-frame-options": "DENY"}}
const KeyHeaders = "headers"

const HeaderRulesName = "builtin.header-rules"

type rule struct {
	pattern string
	headers [][2]string
}

// HeaderRules sets configured headers on files whose path or base name
// matches a glob. Rules apply in pattern order, so a later pattern wins
// when two match the same header.
type HeaderRules struct {
	rules atomic.Pointer[[]rule]
}

func NewHeaderRules() *HeaderRules { return &HeaderRules{} }

func (h *HeaderRules) Plugin() plugin.Plugin {
	return plugin.FromObject(HeaderRulesName, h)
}

func (h *HeaderRules) PreDeploy(_ context.Context, site plugin.Site) error {
	var rules []rule
	if cfg := site.Config(); cfg != nil {
		raw, _ := cfg.Get(KeyHeaders)
		parsed, err := parseRules(raw)
		if err != nil {
			return err
		}
		rules = parsed
	}
	h.rules.Store(&rules)
	return nil
}

func (h *HeaderRules) PreDeployFile(_ context.Context, f plugin.File) error {
	rp := h.rules.Load()
	if rp == nil {
		return nil
	}
	p := f.Path()
	base := path.Base(p)
	for _, r := range *rp {
		if ok, _ := path.Match(r.pattern, p); !ok {
			if ok, _ := path.Match(r.pattern, base); !ok {
				continue
			}
		}
		for _, kv := range r.headers {
			f.Headers().Set(kv[0], kv[1])
		}
	}
	return nil
}

func parseRules(raw any) ([]rule, error) {
	if raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, xerrors.Newf("%s must be an object of pattern to headers, got %T", KeyHeaders, raw)
	}
	patterns := make([]string, 0, len(m))
	for p := range m {
		if _, err := path.Match(p, ""); err != nil {
			return nil, xerrors.Wrapf(err, "%s pattern %q", KeyHeaders, p)
		}
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		hm, ok := m[p].(map[string]any)
		if !ok {
			return nil, xerrors.Newf("%s[%q] must be an object, got %T", KeyHeaders, p, m[p])
		}
		names := make([]string, 0, len(hm))
		for n := range hm {
			names = append(names, n)
		}
		sort.Strings(names)
		r := rule{pattern: p}
		for _, n := range names {
			v, ok := hm[n].(string)
			if !ok {
				return nil, xerrors.Newf("%s[%q][%q] must be a string", KeyHeaders, p, n)
			}
			r.headers = append(r.headers, [2]string{n, v})
		}
		rules = append(rules, r)
	}
	return rules, nil
}
