package deploy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/keithlinneman/sitedeploy/internal/cachepolicy"
	"github.com/keithlinneman/sitedeploy/internal/fingerprint"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/pathutil"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/siteconfig"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// HookRunner is the part of plugin.Manager the deploy unit drives
type HookRunner interface {
	PreDeploy(ctx context.Context, site plugin.Site) error
	PreDeployFile(ctx context.Context, f plugin.File) error
	PostDeployFile(ctx context.Context, f plugin.File) error
	PostDeploy(ctx context.Context, site plugin.Site, s plugin.Summary) error
}

// StateCache remembers the digest of the last successful upload per key
type StateCache interface {
	Unchanged(key, digest string) bool
	Record(key, digest string) error
}

type SiteOptions struct {
	Logger log.Logger

	// BuildDir is the root every file key is relative to
	BuildDir string

	// Config is read-only for the duration of a batch. Nil means empty.
	Config plugin.Config

	// Hooks runs the plugin chain. Nil runs no hooks.
	Hooks HookRunner

	Policy   cachepolicy.Resolver
	Detector fingerprint.Detector

	// Compress marks text payloads with content-encoding gzip before hooks run
	Compress bool

	// State enables skipping uploads whose final headers and payload match
	// the last recorded deploy
	State StateCache
}

// Site is the batch-wide context shared by every File of one build
type Site struct {
	logger   log.Logger
	buildDir string
	config   plugin.Config
	hooks    HookRunner
	policy   cachepolicy.Resolver
	detector fingerprint.Detector
	compress bool
	state    StateCache
}

func NewSite(opts SiteOptions) (*Site, error) {
	if opts.BuildDir == "" {
		return nil, xerrors.New("BuildDir is required")
	}
	dir, err := filepath.Abs(opts.BuildDir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve build dir %s", opts.BuildDir)
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat build dir %s", dir)
	}
	if !st.IsDir() {
		return nil, xerrors.Newf("build dir %s is not a directory", dir)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Config == nil {
		opts.Config = siteconfig.New()
	}
	if opts.Hooks == nil {
		opts.Hooks = noHooks{}
	}
	if opts.Detector.HashLength <= 0 {
		opts.Detector = fingerprint.New(fingerprint.DefaultHashLength)
	}
	return &Site{
		logger:   opts.Logger,
		buildDir: dir,
		config:   opts.Config,
		hooks:    opts.Hooks,
		policy:   opts.Policy,
		detector: opts.Detector,
		compress: opts.Compress,
		state:    opts.State,
	}, nil
}

func (s *Site) BuildDir() string      { return s.buildDir }
func (s *Site) Config() plugin.Config { return s.config }

// URL is the configured site-url, or "" when unset
func (s *Site) URL() string {
	v, _ := s.config.Get(siteconfig.KeySiteURL)
	u, _ := v.(string)
	return u
}

// PreDeploy fires the once-per-batch hook
func (s *Site) PreDeploy(ctx context.Context) error {
	return s.hooks.PreDeploy(ctx, s)
}

// PostDeploy fires the end-of-batch hook
func (s *Site) PostDeploy(ctx context.Context, sum plugin.Summary) error {
	return s.hooks.PostDeploy(ctx, s, sum)
}

// File returns the deploy unit for rel, a slash-separated path under the
// build dir. rel is used verbatim as the object key.
func (s *Site) File(rel string) (*File, error) {
	if err := pathutil.CheckKey(rel); err != nil {
		return nil, err
	}
	full := filepath.Join(s.buildDir, filepath.FromSlash(rel))
	st, err := os.Lstat(full)
	if err != nil {
		return nil, xerrors.Wrapf(err, "stat %s", rel)
	}
	if !st.Mode().IsRegular() {
		return nil, xerrors.Wrapf(ErrNotRegular, "%s", rel)
	}
	return &File{
		site:          s,
		path:          rel,
		fullPath:      full,
		fingerprinted: s.detector.IsFingerprinted(rel),
		headers:       headers.New(),
		logger:        s.logger.With("key", rel),
	}, nil
}

type noHooks struct{}

func (noHooks) PreDeploy(context.Context, plugin.Site) error                  { return nil }
func (noHooks) PreDeployFile(context.Context, plugin.File) error              { return nil }
func (noHooks) PostDeployFile(context.Context, plugin.File) error             { return nil }
func (noHooks) PostDeploy(context.Context, plugin.Site, plugin.Summary) error { return nil }
