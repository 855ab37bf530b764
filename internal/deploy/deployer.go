package deploy

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/pathutil"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

const DefaultConcurrency = 4

// Recorder receives per-file and per-batch outcomes, e.g. *metrics.DeployMetrics
type Recorder interface {
	ObserveFile(result string, bytes int, d time.Duration)
	ObserveBatch(d time.Duration, ok bool)
}

type Options struct {
	Logger log.Logger
	Site   *Site
	Bucket bucket.Bucket

	// Concurrency bounds parallel file deploys (default 4)
	Concurrency int

	// UploadsPerSecond paces SetContents calls across workers; 0 disables
	UploadsPerSecond float64

	// Exclude holds globs matched against the key and its base name
	Exclude []string

	Metrics Recorder
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
}

// Deployer walks a build dir and deploys every file through the Site
type Deployer struct {
	opts   Options
	bucket bucket.Bucket
	logger log.Logger
}

func NewDeployer(opts Options) (*Deployer, error) {
	if opts.Site == nil {
		return nil, xerrors.New("Site is required")
	}
	if opts.Bucket == nil {
		return nil, xerrors.New("Bucket is required")
	}
	for _, p := range opts.Exclude {
		if _, err := path.Match(p, ""); err != nil {
			return nil, xerrors.Wrapf(err, "exclude pattern %q", p)
		}
	}
	opts.setDefaults()

	b := opts.Bucket
	if opts.UploadsPerSecond > 0 {
		burst := max(1, int(opts.UploadsPerSecond))
		b = bucket.Paced(b, rate.NewLimiter(rate.Limit(opts.UploadsPerSecond), burst))
	}
	return &Deployer{opts: opts, bucket: b, logger: opts.Logger}, nil
}

// FileResult is the outcome of one file in a batch
type FileResult struct {
	Key          string
	State        State
	Size         int
	SHA256       string
	CacheControl string
	Headers      map[string]string
	Duration     time.Duration
	Err          error
}

// Result maps the outcome onto the metrics label set
func (r FileResult) Result() string {
	switch {
	case r.Err != nil:
		return "failed"
	case r.State == Skipped:
		return "skipped"
	}
	return "uploaded"
}

type Report struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Files    []FileResult
	Uploaded int
	Skipped  int
	Failed   int
}

func (r *Report) Summary() plugin.Summary {
	return plugin.Summary{DeployID: r.ID, Uploaded: r.Uploaded, Skipped: r.Skipped, Failed: r.Failed}
}

// Discover lists deployable keys under the build dir in lexical order.
// Symlinks and other non-regular entries are ignored.
func (d *Deployer) Discover() ([]string, error) {
	root := d.opts.Site.BuildDir()
	var keys []string
	err := filepath.WalkDir(root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := pathutil.KeyFromRel(rel)
		if d.excluded(key) {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "walk build dir %s", root)
	}
	sort.Strings(keys)
	return keys, nil
}

func (d *Deployer) excluded(key string) bool {
	base := path.Base(key)
	for _, p := range d.opts.Exclude {
		if ok, _ := path.Match(p, key); ok {
			return true
		}
		if ok, _ := path.Match(p, base); ok {
			return true
		}
	}
	return false
}

// Run deploys every discovered file. A preDeploy failure aborts the batch
// before any upload. Per-file failures do not stop other files; they are
// collected in the Report and joined into the returned error.
func (d *Deployer) Run(ctx context.Context) (*Report, error) {
	keys, err := d.Discover()
	if err != nil {
		return nil, err
	}
	return d.Deploy(ctx, keys)
}

// Deploy runs one batch over the given keys, keeping their order in the Report
func (d *Deployer) Deploy(ctx context.Context, keys []string) (rep *Report, err error) {
	rep = &Report{ID: uuid.NewString(), Started: time.Now()}
	logger := d.logger.With("deploy_id", rep.ID)

	ctx, span := tracer.Start(ctx, "deploy.batch",
		trace.WithAttributes(
			attribute.String("deploy.id", rep.ID),
			attribute.Int("deploy.files", len(keys)),
		),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("deploy.uploaded", rep.Uploaded),
			attribute.Int("deploy.skipped", rep.Skipped),
			attribute.Int("deploy.failed", rep.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deploy batch failed")
		}
		span.End()
	}()

	site := d.opts.Site
	if err := site.PreDeploy(ctx); err != nil {
		rep.Duration = time.Since(rep.Started)
		d.observeBatch(rep.Duration, false)
		return rep, xerrors.Wrap(err, "pre-deploy hooks")
	}
	logger.Info(ctx, "deploy started", "files", len(keys), "concurrency", d.opts.Concurrency)

	rep.Files = make([]FileResult, len(keys))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(d.opts.Concurrency, max(1, len(keys))) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				rep.Files[i] = d.deployOne(ctx, site, keys[i])
			}
		}()
	}
feed:
	for i := range keys {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(keys); j++ {
				rep.Files[j] = FileResult{Key: keys[j], State: DeployFailed, Err: xerrors.Wrapf(ctx.Err(), "deploy %s", keys[j])}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	var errs []error
	for _, fr := range rep.Files {
		switch fr.Result() {
		case "failed":
			rep.Failed++
			errs = append(errs, fr.Err)
		case "skipped":
			rep.Skipped++
		default:
			rep.Uploaded++
		}
	}

	if err := site.PostDeploy(ctx, rep.Summary()); err != nil {
		errs = append(errs, xerrors.Wrap(err, "post-deploy hooks"))
	}

	rep.Duration = time.Since(rep.Started)
	err = errors.Join(errs...)
	d.observeBatch(rep.Duration, err == nil)

	if err != nil {
		logger.Error(ctx, err, "deploy finished with failures",
			"uploaded", rep.Uploaded, "skipped", rep.Skipped, "failed", rep.Failed,
			"duration", rep.Duration)
	} else {
		logger.Info(ctx, "deploy finished",
			"uploaded", rep.Uploaded, "skipped", rep.Skipped,
			"duration", rep.Duration)
	}
	return rep, err
}

func (d *Deployer) deployOne(ctx context.Context, site *Site, key string) FileResult {
	start := time.Now()
	fr := FileResult{Key: key}

	f, err := site.File(key)
	if err == nil {
		err = f.Upload(ctx, d.bucket)
		fr.State = f.State()
		fr.Size = f.Size()
		fr.SHA256 = f.SHA256()
		fr.CacheControl = f.Headers().Value(headers.CacheControl)
		fr.Headers = f.Headers().Map()
	} else {
		fr.State = DeployFailed
	}
	fr.Err = err
	fr.Duration = time.Since(start)

	if d.opts.Metrics != nil {
		d.opts.Metrics.ObserveFile(fr.Result(), fr.Size, fr.Duration)
	}
	if err != nil {
		d.logger.Warn(ctx, "file deploy failed", "key", key, "state", fr.State.String(), "err", err)
	}
	return fr
}

func (d *Deployer) observeBatch(dur time.Duration, ok bool) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.ObserveBatch(dur, ok)
	}
}
