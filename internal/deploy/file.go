package deploy

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/cryptoutil"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/statecache"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

var tracer = otel.Tracer("github.com/keithlinneman/sitedeploy/internal/deploy")

// ErrNotRegular is returned for directories, symlinks and devices under the build dir
var ErrNotRegular = errors.New("deploy: not a regular file")

// State is where a File is in its deploy sequence
type State int

const (
	Discovered State = iota
	HeadersResolved
	PreDeployHooksRun
	Uploaded
	// Skipped is a terminal success: the payload matched the last deploy
	Skipped
	DeployFailed
)

func (s State) String() string {
	switch s {
	case Discovered:
		return "discovered"
	case HeadersResolved:
		return "headers-resolved"
	case PreDeployHooksRun:
		return "pre-deploy-hooks-run"
	case Uploaded:
		return "uploaded"
	case Skipped:
		return "skipped"
	case DeployFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further step runs in this sequence
func (s State) Terminal() bool {
	return s == Uploaded || s == Skipped || s == DeployFailed
}

// File is one artifact of a build. It is driven by a single goroutine; only
// hooks called from Upload may touch its headers, and only during the call.
type File struct {
	site          *Site
	logger        log.Logger
	path          string
	fullPath      string
	fingerprinted bool
	headers       *headers.Headers

	state  State
	size   int
	sha256 string
	err    error
}

func (f *File) Path() string              { return f.path }
func (f *File) FullPath() string          { return f.fullPath }
func (f *File) IsFingerprinted() bool     { return f.fingerprinted }
func (f *File) Headers() *headers.Headers { return f.headers }
func (f *File) State() State              { return f.state }
func (f *File) Err() error                { return f.err }

// Size is the byte length of the last payload handed to the bucket (or
// skipped), after compression.
func (f *File) Size() int { return f.size }

// SHA256 is the hex digest of that payload
func (f *File) SHA256() string { return f.sha256 }

// ResolveHeaders discards any previous headers and sets cache-control,
// content-type and (when compressing) content-encoding.
func (f *File) ResolveHeaders() error {
	f.headers.Reset()

	cc, _, err := f.site.policy.Resolve(f.fingerprinted, f.site.config)
	if err != nil {
		return f.fail(xerrors.Wrapf(err, "resolve cache policy for %s", f.path))
	}
	f.headers.Set(headers.CacheControl, cc)

	ct := contentTypeFor(f.path)
	f.headers.Set(headers.ContentType, ct)
	if f.site.compress && compressible(ct) {
		f.headers.Set(headers.ContentEncoding, "gzip")
	}

	f.state = HeadersResolved
	return nil
}

// Upload runs the whole sequence: resolve headers, run preDeployFile hooks,
// read the file from disk, hand it to b under the file's relative path,
// then run postDeployFile hooks. Calling it again starts over.
func (f *File) Upload(ctx context.Context, b bucket.Bucket) (err error) {
	ctx, span := tracer.Start(ctx, "deploy.file",
		trace.WithAttributes(
			attribute.String("deploy.key", f.path),
			attribute.Bool("deploy.fingerprinted", f.fingerprinted),
		),
	)
	defer func() {
		span.SetAttributes(attribute.String("deploy.state", f.state.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "deploy file failed")
		}
		span.End()
	}()

	f.state = Discovered
	f.err = nil
	f.size = 0
	f.sha256 = ""

	if err := f.ResolveHeaders(); err != nil {
		return err
	}

	if err := f.site.hooks.PreDeployFile(ctx, f); err != nil {
		return f.fail(xerrors.Wrapf(err, "pre-deploy hooks for %s", f.path))
	}
	f.state = PreDeployHooksRun

	data, err := os.ReadFile(f.fullPath)
	if err != nil {
		return f.fail(xerrors.Wrapf(err, "read %s", f.path))
	}

	// hooks have the final say on encoding
	payload := data
	if strings.EqualFold(f.headers.Value(headers.ContentEncoding), "gzip") {
		payload, err = gzipBytes(data)
		if err != nil {
			return f.fail(xerrors.Wrapf(err, "compress %s", f.path))
		}
	}

	hdrs := f.headers.Map()
	f.size = len(payload)
	f.sha256 = cryptoutil.SHA256Hex(payload)

	var digest string
	if f.site.state != nil {
		digest = statecache.Digest(hdrs, data)
		if f.site.state.Unchanged(f.path, digest) {
			f.state = Skipped
			f.logger.Debug(ctx, "unchanged since last deploy, skipping upload")
			return f.postDeployFile(ctx)
		}
	}

	key := b.NewKey(f.path)
	if err := key.SetContents(ctx, payload, hdrs); err != nil {
		return f.fail(xerrors.Wrapf(err, "upload %s", f.path))
	}
	f.state = Uploaded

	if f.site.state != nil {
		if err := f.site.state.Record(f.path, digest); err != nil {
			// next run re-uploads; nothing is lost
			f.logger.Warn(ctx, "record deploy state failed", "err", err)
		}
	}

	f.logger.Debug(ctx, "uploaded",
		"bytes", f.size,
		"cache_control", f.headers.Value(headers.CacheControl),
	)
	return f.postDeployFile(ctx)
}

// postDeployFile errors leave the state alone: the object is already stored
func (f *File) postDeployFile(ctx context.Context) error {
	if err := f.site.hooks.PostDeployFile(ctx, f); err != nil {
		f.err = xerrors.Wrapf(err, "post-deploy hooks for %s", f.path)
		return f.err
	}
	return nil
}

func (f *File) fail(err error) error {
	f.state = DeployFailed
	f.err = err
	return err
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
