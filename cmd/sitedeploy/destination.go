package main

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/keithlinneman/sitedeploy/internal/awsx"
	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/cfg"
	"github.com/keithlinneman/sitedeploy/internal/log"
)

type awsDeps struct {
	cfg aws.Config
}

// destination returns the bucket the deploy writes to. Dry runs get an
// in-memory bucket and no AWS dependencies.
func destination(ctx context.Context, conf cfg.App, L log.Logger) (bucket.Bucket, *awsDeps, error) {
	if conf.DryRun {
		return bucket.NewMemory(), nil, nil
	}
	awsCfg, err := awsx.LoadConfig(ctx, awsx.Options{Region: conf.Region})
	if err != nil {
		return nil, nil, err
	}
	b, err := bucket.NewS3(bucket.S3Options{
		Logger: L,
		Bucket: conf.Bucket,
		Prefix: conf.Prefix,
		ACL:    conf.ACL,
		Client: bucket.NewS3Client(awsCfg, conf.Endpoint),
	})
	if err != nil {
		return nil, nil, err
	}
	return b, &awsDeps{cfg: awsCfg}, nil
}

// reportDryRun logs every object a real deploy would have written
func reportDryRun(ctx context.Context, mem *bucket.Memory, L log.Logger) {
	for _, k := range mem.Keys() {
		obj, _ := mem.Get(k)
		L.Info(ctx, "dry run: would upload",
			"key", k,
			"bytes", len(obj.Data),
			"headers", obj.Headers,
		)
	}
}
