package deploy

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/cachepolicy"
	"github.com/keithlinneman/sitedeploy/internal/plugin"
	"github.com/keithlinneman/sitedeploy/internal/plugin/builtin"
	"github.com/keithlinneman/sitedeploy/internal/siteconfig"
)

type fakeRecorder struct {
	mu      sync.Mutex
	files   map[string]int
	batches []bool
}

func (r *fakeRecorder) ObserveFile(result string, _ int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.files == nil {
		r.files = map[string]int{}
	}
	r.files[result]++
}

func (r *fakeRecorder) ObserveBatch(_ time.Duration, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, ok)
}

func newDeployer(t *testing.T, opts Options) *Deployer {
	t.Helper()
	d, err := NewDeployer(opts)
	if err != nil {
		t.Fatalf("NewDeployer: %v", err)
	}
	return d
}

// Discovery

func TestDiscover(t *testing.T) {
	dir := writeBuild(t, map[string]string{
		"index.html":       "x",
		"css/site.css":     "x",
		"a/b/c.js":         "x",
		".DS_Store":        "x",
		"drafts/wip.html":  "x",
		"img/logo.png":     "x",
		"img/logo.png.map": "x",
	})
	site := newSite(t, SiteOptions{BuildDir: dir})
	d := newDeployer(t, Options{
		Site:    site,
		Bucket:  bucket.NewMemory(),
		Exclude: []string{".DS_Store", "drafts/*", "*.map"},
	})

	got, err := d.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	want := []string{"a/b/c.js", "css/site.css", "img/logo.png", "index.html"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Discover = %v, want %v", got, want)
	}
}

func TestNewDeployer_Validation(t *testing.T) {
	dir := writeBuild(t, nil)
	site := newSite(t, SiteOptions{BuildDir: dir})

	if _, err := NewDeployer(Options{Bucket: bucket.NewMemory()}); err == nil {
		t.Fatal("missing Site should fail")
	}
	if _, err := NewDeployer(Options{Site: site}); err == nil {
		t.Fatal("missing Bucket should fail")
	}
	if _, err := NewDeployer(Options{Site: site, Bucket: bucket.NewMemory(), Exclude: []string{"["}}); err == nil {
		t.Fatal("bad exclude pattern should fail")
	}
}

// Batches

func TestRun_FullBatch(t *testing.T) {
	dir := writeBuild(t, map[string]string{
		"index.html":       "<h1>",
		"about/index.html": "<h2>",
		"app.0cc175b9c0f1b6a831c399e269772661.js": "a",
	})
	cfg := siteconfig.New()
	cfg.Set(siteconfig.KeyCacheDuration, 300)

	var preDeploys int
	var summary plugin.Summary
	batch := plugin.Plugin{Name: "batch", Hooks: plugin.Hooks{
		PreDeploy: func(context.Context, plugin.Site) error {
			preDeploys++
			return nil
		},
		PostDeploy: func(_ context.Context, _ plugin.Site, s plugin.Summary) error {
			summary = s
			return nil
		},
	}}
	mgr := newManager(t, builtin.NewCacheDuration(cachepolicy.Resolver{}).Plugin(), batch)
	site := newSite(t, SiteOptions{BuildDir: dir, Config: cfg, Hooks: mgr})
	b := bucket.NewMemory()
	rec := &fakeRecorder{}
	d := newDeployer(t, Options{Site: site, Bucket: b, Concurrency: 2, Metrics: rec})

	rep, err := d.Run(t.Context())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if preDeploys != 1 {
		t.Fatalf("preDeploy ran %d times, want once per batch", preDeploys)
	}
	if rep.ID == "" || summary.DeployID != rep.ID {
		t.Fatalf("deploy id %q, summary %+v", rep.ID, summary)
	}
	if rep.Uploaded != 3 || rep.Failed != 0 || summary.Uploaded != 3 {
		t.Fatalf("report = %+v", rep)
	}

	wantKeys := []string{"about/index.html", "app.0cc175b9c0f1b6a831c399e269772661.js", "index.html"}
	var keys []string
	for _, fr := range rep.Files {
		keys = append(keys, fr.Key)
	}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Fatalf("report order = %v, want %v", keys, wantKeys)
	}

	for _, tc := range []struct {
		key string
		cc  string
	}{
		{"index.html", "max-age=300"},
		{"about/index.html", "max-age=300"},
		{"app.0cc175b9c0f1b6a831c399e269772661.js", "max-age=31536000"},
	} {
		obj, ok := b.Get(tc.key)
		if !ok {
			t.Fatalf("%s not uploaded", tc.key)
		}
		if obj.Headers["cache-control"] != tc.cc {
			t.Errorf("%s cache-control = %q, want %q", tc.key, obj.Headers["cache-control"], tc.cc)
		}
	}

	if rec.files["uploaded"] != 3 || !reflect.DeepEqual(rec.batches, []bool{true}) {
		t.Fatalf("recorder files=%v batches=%v", rec.files, rec.batches)
	}
}

func TestRun_FailuresAreIsolated(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a", "b.html": "b", "c.html": "c"})
	boom := errors.New("boom")
	picky := plugin.Plugin{Name: "picky", Hooks: plugin.Hooks{
		PreDeployFile: func(_ context.Context, f plugin.File) error {
			if f.Path() == "b.html" {
				return boom
			}
			return nil
		},
	}}
	site := newSite(t, SiteOptions{BuildDir: dir, Hooks: newManager(t, picky)})
	b := bucket.NewMemory()
	denied := errors.New("denied")
	b.FailOn = map[string]error{"c.html": denied}
	rec := &fakeRecorder{}
	d := newDeployer(t, Options{Site: site, Bucket: b, Metrics: rec})

	rep, err := d.Run(t.Context())
	if !errors.Is(err, boom) || !errors.Is(err, denied) {
		t.Fatalf("err = %v, want both failures joined", err)
	}
	if rep.Uploaded != 1 || rep.Failed != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if _, ok := b.Get("a.html"); !ok {
		t.Fatal("a.html should still upload")
	}
	for _, k := range b.NewKeyCalls() {
		if k == "b.html" {
			t.Fatal("b.html failed its hook and must not reach the bucket")
		}
	}
	if rep.Files[1].State != DeployFailed || rep.Files[1].Result() != "failed" {
		t.Fatalf("b.html result = %+v", rep.Files[1])
	}
	if rec.files["failed"] != 2 || !reflect.DeepEqual(rec.batches, []bool{false}) {
		t.Fatalf("recorder files=%v batches=%v", rec.files, rec.batches)
	}
}

func TestRun_PreDeployErrorAbortsBatch(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a"})
	cfg := siteconfig.New()
	cfg.Set(siteconfig.KeyCacheDuration, 1.5)
	mgr := newManager(t, builtin.NewCacheDuration(cachepolicy.Resolver{}).Plugin())
	site := newSite(t, SiteOptions{BuildDir: dir, Config: cfg, Hooks: mgr})
	b := bucket.NewMemory()
	d := newDeployer(t, Options{Site: site, Bucket: b})

	_, err := d.Run(t.Context())
	if !errors.Is(err, cachepolicy.ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
	if len(b.NewKeyCalls()) != 0 {
		t.Fatal("no file may upload after preDeploy fails")
	}
}

func TestRun_PostDeployErrorReported(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a"})
	boom := errors.New("cdn purge failed")
	purge := plugin.Plugin{Name: "purge", Hooks: plugin.Hooks{
		PostDeploy: func(context.Context, plugin.Site, plugin.Summary) error { return boom },
	}}
	site := newSite(t, SiteOptions{BuildDir: dir, Hooks: newManager(t, purge)})
	d := newDeployer(t, Options{Site: site, Bucket: bucket.NewMemory()})

	rep, err := d.Run(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want purge failure", err)
	}
	if rep.Uploaded != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRun_SkipUnchanged(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a", "b.html": "b"})
	site := newSite(t, SiteOptions{BuildDir: dir, State: memState{}})
	b := bucket.NewMemory()
	d := newDeployer(t, Options{Site: site, Bucket: b})

	if _, err := d.Run(t.Context()); err != nil {
		t.Fatal(err)
	}
	rep, err := d.Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Skipped != 2 || rep.Uploaded != 0 {
		t.Fatalf("second run = %+v, want everything skipped", rep)
	}
	if got := len(b.NewKeyCalls()); got != 2 {
		t.Fatalf("NewKey calls = %d, want 2", got)
	}
}

func TestRun_CanceledContext(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a", "b.html": "b"})
	site := newSite(t, SiteOptions{BuildDir: dir})
	b := bucket.NewMemory()
	d := newDeployer(t, Options{Site: site, Bucket: b})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	rep, err := d.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if rep.Uploaded != 0 || rep.Failed != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRun_Paced(t *testing.T) {
	dir := writeBuild(t, map[string]string{"a.html": "a", "b.html": "b"})
	site := newSite(t, SiteOptions{BuildDir: dir})
	b := bucket.NewMemory()
	d := newDeployer(t, Options{Site: site, Bucket: b, UploadsPerSecond: 1000})

	rep, err := d.Run(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Uploaded != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if got := b.NewKeyCalls(); len(got) != 2 {
		t.Fatalf("pacing must keep keys intact, got %v", got)
	}
}
