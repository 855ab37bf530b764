package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/keithlinneman/sitedeploy/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names by FillFromEnv
const EnvPrefix = "SITEDEPLOY_"

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	SiteDir  string
	BuildDir string
	Config   string
	Exclude  string

	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	ACL      string

	Concurrency      int
	UploadsPerSecond float64
	DryRun           bool
	Compress         bool
	SkipUnchanged    bool
	StateDir         string

	Manifest              string
	ManifestSigningKeyARN string
	ReleaseSSMParam       string

	MetricsTextfile string
	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.StringVar(&c.SiteDir, "site-dir", ".", "site root; build-dir and config resolve against it when relative")
	fs.StringVar(&c.BuildDir, "build-dir", ".build", "directory of built artifacts to deploy")
	fs.StringVar(&c.Config, "config", "config.json", "site config file (.json with comments, .yaml, .yml)")
	fs.StringVar(&c.Exclude, "exclude", ".DS_Store", "comma separated globs to leave out of the deploy")

	fs.StringVar(&c.Bucket, "bucket", "", "destination s3 bucket")
	fs.StringVar(&c.Prefix, "prefix", "", "key prefix inside the bucket")
	fs.StringVar(&c.Region, "region", "", "AWS region (default from the AWS environment)")
	fs.StringVar(&c.Endpoint, "endpoint", "", "custom S3 endpoint URL (path-style addressing)")
	fs.StringVar(&c.ACL, "acl", "", "canned ACL for uploaded objects, e.g. public-read")

	fs.IntVar(&c.Concurrency, "concurrency", 4, "parallel file deploys (1..64)")
	fs.Float64Var(&c.UploadsPerSecond, "uploads-per-second", 0, "pace uploads across workers (0 disables)")
	fs.BoolVar(&c.DryRun, "dry-run", false, "run hooks and record uploads in memory only")
	fs.BoolVar(&c.Compress, "compress", false, "gzip text assets and set content-encoding")
	fs.BoolVar(&c.SkipUnchanged, "skip-unchanged", false, "skip files whose headers and payload match the last deploy")
	fs.StringVar(&c.StateDir, "state-dir", ".sitedeploy", "state database directory used by -skip-unchanged")

	fs.StringVar(&c.Manifest, "manifest", "", "object key for the release manifest (empty disables)")
	fs.StringVar(&c.ManifestSigningKeyARN, "manifest-signing-key-arn", "", "KMS key ARN used to sign the manifest")
	fs.StringVar(&c.ReleaseSSMParam, "release-ssm-param", "", "ssm parameter updated with the manifest sha256")

	fs.StringVar(&c.MetricsTextfile, "metrics-textfile", "", "write prometheus metrics to this node_exporter textfile")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// ExcludeGlobs splits the -exclude list, dropping empty entries
func (c App) ExcludeGlobs() []string {
	var out []string
	for _, g := range strings.Split(c.Exclude, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks {
		if c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64 {
			errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
		}
	}

	// Site
	if c.BuildDir == "" {
		errs = append(errs, fmt.Errorf("BUILD_DIR is required"))
	}

	// Destination
	if !c.DryRun && c.Bucket == "" {
		errs = append(errs, fmt.Errorf("BUCKET is required unless DRY_RUN=true"))
	}
	if strings.HasPrefix(c.Prefix, "/") {
		errs = append(errs, fmt.Errorf("PREFIX must not start with a slash (got %q)", c.Prefix))
	}
	if c.Endpoint != "" {
		if u, err := url.Parse(c.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("ENDPOINT must be a URL (got %q)", c.Endpoint))
		}
	}

	// Batch
	if c.Concurrency < 1 || c.Concurrency > 64 {
		errs = append(errs, fmt.Errorf("CONCURRENCY must be 1..64 (got %d)", c.Concurrency))
	}
	if c.UploadsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("UPLOADS_PER_SECOND must not be negative (got %v)", c.UploadsPerSecond))
	}
	if c.SkipUnchanged && c.StateDir == "" {
		errs = append(errs, fmt.Errorf("STATE_DIR required when SKIP_UNCHANGED=true"))
	}

	// Release
	if c.ManifestSigningKeyARN != "" && c.Manifest == "" {
		errs = append(errs, fmt.Errorf("MANIFEST required when MANIFEST_SIGNING_KEY_ARN is set"))
	}
	if c.ReleaseSSMParam != "" && c.Manifest == "" {
		errs = append(errs, fmt.Errorf("MANIFEST required when RELEASE_SSM_PARAM is set"))
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
