package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/cachepolicy"
	"github.com/keithlinneman/sitedeploy/internal/cfg"
	"github.com/keithlinneman/sitedeploy/internal/cryptoutil"
	"github.com/keithlinneman/sitedeploy/internal/deploy"
	"github.com/keithlinneman/sitedeploy/internal/fingerprint"
	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/metrics"
	"github.com/keithlinneman/sitedeploy/internal/otelx"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/plugin/builtin"
	"github.com/keithlinneman/sitedeploy/internal/release"
	"github.com/keithlinneman/sitedeploy/internal/siteconfig"
	"github.com/keithlinneman/sitedeploy/internal/statecache"
	v "github.com/keithlinneman/sitedeploy/internal/version"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(2)
	}
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	maxLinks := conf.MaxErrorLinks
	if !conf.IncludeErrorLinks {
		maxLinks = 1
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSON:            conf.LogJSON,
		MaxErrorLinks:   maxLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	L := lg.With("component", "deploy")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting deploy",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"site_dir", conf.SiteDir,
		"build_dir", conf.BuildDir,
		"config", conf.Config,
		"bucket", conf.Bucket,
		"prefix", conf.Prefix,
		"dry_run", conf.DryRun,
		"compress", conf.Compress,
		"skip_unchanged", conf.SkipUnchanged,
		"concurrency", conf.Concurrency,
		"uploads_per_second", conf.UploadsPerSecond,
		"manifest", conf.Manifest,
		"release_ssm_param", conf.ReleaseSSMParam,
		"enable_tracing", conf.EnableTracing,
	)

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:  conf.EnableTracing,
		Endpoint: conf.OTLPEndpoint,
		Insecure: true,
		Sample:   conf.TraceSample,
		Service:  v.AppName,
		Version:  vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}

	m := metrics.New()
	m.SetBuildInfo(vi)

	code := 0
	if err := run(ctx, conf, vi, m, L); err != nil {
		L.Error(ctx, err, "deploy failed")
		code = 1
	}

	if conf.MetricsTextfile != "" {
		if err := m.WriteTextfile(conf.MetricsTextfile); err != nil {
			L.Error(ctx, err, "metrics textfile write failed")
		}
	}

	// flush spans even when the signal context is already done
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = shutdownOTEL(flushCtx)
	cancel()
	_ = lg.Sync()
	stop()
	os.Exit(code)
}

func run(ctx context.Context, conf cfg.App, vi v.Info, m *metrics.DeployMetrics, L log.Logger) error {
	buildDir := underSite(conf.SiteDir, conf.BuildDir)
	store, err := loadSiteConfig(ctx, underSite(conf.SiteDir, conf.Config), L)
	if err != nil {
		return err
	}

	resolver := cachepolicy.New(cachepolicy.Options{})

	// builtin cache policy runs first so third-party hooks see (and may
	// override) it; the header logger runs last and sees the final set
	mgr, err := plugin.NewManager(plugin.Options{
		Logger: L,
		Loaders: []plugin.Loader{plugin.Objects{
			builtin.NewCacheDuration(resolver).Plugin(),
			builtin.NewHeaderRules().Plugin(),
			builtin.HeaderLogger(L),
		}},
		OnHookError: func(name string, ev plugin.Event) { m.IncHookError(name, string(ev)) },
	})
	if err != nil {
		return xerrors.Wrap(err, "load plugins")
	}

	siteOpts := deploy.SiteOptions{
		Logger:   L,
		BuildDir: buildDir,
		Config:   store,
		Hooks:    mgr,
		Policy:   resolver,
		Detector: fingerprint.New(fingerprint.DefaultHashLength),
		Compress: conf.Compress,
	}
	if conf.SkipUnchanged {
		ns := "dry-run"
		if !conf.DryRun {
			ns = conf.Bucket + "/" + conf.Prefix
		}
		sc, err := statecache.Open(underSite(conf.SiteDir, conf.StateDir), ns)
		if err != nil {
			return err
		}
		defer sc.Close()
		siteOpts.State = sc
	}
	site, err := deploy.NewSite(siteOpts)
	if err != nil {
		return err
	}

	dest, aw, err := destination(ctx, conf, L)
	if err != nil {
		return err
	}

	d, err := deploy.NewDeployer(deploy.Options{
		Logger:           L,
		Site:             site,
		Bucket:           dest,
		Concurrency:      conf.Concurrency,
		UploadsPerSecond: conf.UploadsPerSecond,
		Exclude:          conf.ExcludeGlobs(),
		Metrics:          m,
	})
	if err != nil {
		return err
	}

	rep, runErr := d.Run(ctx)
	if mem, ok := dest.(*bucket.Memory); ok {
		reportDryRun(ctx, mem, L)
	}
	if runErr != nil {
		// a partial release must never become the pointer target
		return runErr
	}

	if conf.Manifest == "" {
		return nil
	}
	pubOpts := release.PublisherOptions{
		Logger: L,
		Bucket: dest,
		Key:    conf.Manifest,
	}
	if aw != nil {
		if conf.ManifestSigningKeyARN != "" {
			pubOpts.Signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(aw.cfg), conf.ManifestSigningKeyARN)
		}
		if conf.ReleaseSSMParam != "" {
			pubOpts.SSM = release.NewSSMClient(aw.cfg)
			pubOpts.SSMParam = conf.ReleaseSSMParam
		}
	} else if conf.ManifestSigningKeyARN != "" || conf.ReleaseSSMParam != "" {
		L.Info(ctx, "dry run: skipping manifest signing and ssm publish")
	}
	pub, err := release.NewPublisher(pubOpts)
	if err != nil {
		return err
	}
	_, err = pub.Publish(ctx, release.FromReport(rep, site.URL(), vi, time.Now()))
	return err
}

// underSite resolves p against the site dir unless it is absolute
func underSite(siteDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(siteDir, p)
}

// loadSiteConfig treats a missing config file as an empty config
func loadSiteConfig(ctx context.Context, path string, L log.Logger) (*siteconfig.Store, error) {
	store, err := siteconfig.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		L.Info(ctx, "no site config found, using defaults", "path", path)
		return siteconfig.New(), nil
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
