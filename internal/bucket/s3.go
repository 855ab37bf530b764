package bucket

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// putObjectAPI is the subset of the S3 API needed to upload.
// Extracted as an interface so tests run without AWS credentials.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Logger log.Logger

	Bucket string

	// optional key prefix; object keys are {Prefix}/{name}
	Prefix string

	// canned ACL applied to every object, e.g. "public-read"; empty leaves the bucket default
	ACL string

	Client putObjectAPI
}

type S3Bucket struct {
	opts   S3Options
	client putObjectAPI
	logger log.Logger
}

func NewS3(opts S3Options) (*S3Bucket, error) {
	if opts.Bucket == "" {
		return nil, xerrors.New("bucket: Bucket is required")
	}
	if opts.Client == nil {
		return nil, xerrors.New("bucket: Client is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &S3Bucket{opts: opts, client: opts.Client, logger: opts.Logger}, nil
}

// NewS3Client builds an S3 client from cfg. A non-empty endpoint targets an
// S3-compatible store and switches to path-style addressing.
func NewS3Client(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

func (b *S3Bucket) NewKey(name string) Key {
	return &s3Key{bucket: b, name: name}
}

// objectKey appends name verbatim to the configured prefix. A name that
// already starts with a slash supplies its own separator.
func (b *S3Bucket) objectKey(name string) string {
	if b.opts.Prefix == "" {
		return name
	}
	if strings.HasPrefix(name, "/") {
		return b.opts.Prefix + name
	}
	return b.opts.Prefix + "/" + name
}

type s3Key struct {
	bucket *S3Bucket
	name   string
}

func (k *s3Key) Name() string { return k.name }

func (k *s3Key) SetContents(ctx context.Context, data []byte, headers map[string]string) error {
	b := k.bucket
	in, err := putInput(b.opts.Bucket, b.objectKey(k.name), data, headers)
	if err != nil {
		return xerrors.Wrapf(err, "prepare s3://%s/%s", b.opts.Bucket, b.objectKey(k.name))
	}
	if b.opts.ACL != "" {
		in.ACL = s3types.ObjectCannedACL(b.opts.ACL)
	}

	if _, err := b.client.PutObject(ctx, in); err != nil {
		return xerrors.Wrapf(err, "put s3://%s/%s", b.opts.Bucket, aws.ToString(in.Key))
	}
	b.logger.Debug(ctx, "put object",
		"bucket", b.opts.Bucket,
		"key", aws.ToString(in.Key),
		"bytes", len(data),
	)
	return nil
}

const metaPrefix = "x-amz-meta-"

// putInput maps lowercase headers onto PutObject fields. Headers S3 has no
// field for are stored as user metadata, which S3 serves back as x-amz-meta-*.
// A header that cannot be stored as given is an error, never dropped.
func putInput(bucket, key string, data []byte, headers map[string]string) (*s3.PutObjectInput, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	for name, v := range headers {
		switch strings.ToLower(name) {
		case "cache-control":
			in.CacheControl = aws.String(v)
		case "content-type":
			in.ContentType = aws.String(v)
		case "content-encoding":
			in.ContentEncoding = aws.String(v)
		case "content-disposition":
			in.ContentDisposition = aws.String(v)
		case "content-language":
			in.ContentLanguage = aws.String(v)
		case "expires":
			t, err := http.ParseTime(v)
			if err != nil {
				return nil, xerrors.Wrapf(err, "header expires %q is not an HTTP date", v)
			}
			in.Expires = aws.Time(t.UTC().Truncate(time.Second))
		case "x-amz-website-redirect-location":
			in.WebsiteRedirectLocation = aws.String(v)
		default:
			if in.Metadata == nil {
				in.Metadata = map[string]string{}
			}
			mk := strings.TrimPrefix(strings.ToLower(name), metaPrefix)
			if _, dup := in.Metadata[mk]; dup {
				return nil, xerrors.Newf("headers %q and %q both map to metadata key %q", mk, metaPrefix+mk, mk)
			}
			in.Metadata[mk] = v
		}
	}
	return in, nil
}
