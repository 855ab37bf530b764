// Package awsx loads the shared AWS config used by the S3, SSM and KMS clients.
package awsx

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

type Options struct {
	// Region overrides the region from the AWS environment
	Region string

	// MaxAttempts overrides the SDK retry budget per request when > 0
	MaxAttempts int
}

// HTTPClient traces every AWS request as a client span
func HTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "aws " + r.Method + " " + r.URL.Host
			}),
		),
	}
}

func LoadConfig(ctx context.Context, o Options) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(HTTPClient()),
	}
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	if o.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(o.MaxAttempts))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, xerrors.Wrap(err, "load AWS config")
	}
	return cfg, nil
}
