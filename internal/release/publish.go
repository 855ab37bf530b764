package release

import (
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/keithlinneman/sitedeploy/internal/bucket"
	"github.com/keithlinneman/sitedeploy/internal/cachepolicy"
	"github.com/keithlinneman/sitedeploy/internal/cryptoutil"
	"github.com/keithlinneman/sitedeploy/internal/headers"
	"github.com/keithlinneman/sitedeploy/internal/log"
	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// Signer signs manifest bytes, e.g. *cryptoutil.KMSSigner
type Signer interface {
	KeyARN() string
	Sign(ctx context.Context, msg []byte) ([]byte, error)
}

// ssmPutAPI is the subset of the SSM API needed to move the release pointer
type ssmPutAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

type PublisherOptions struct {
	Logger log.Logger

	// Bucket receives the manifest and its signature
	Bucket bucket.Bucket

	// Key is the manifest object key; the signature goes to Key + ".sig"
	Key string

	// Signer is optional
	Signer Signer

	// SSM and SSMParam are optional; both are needed to publish the pointer
	SSM      ssmPutAPI
	SSMParam string
}

type Publisher struct {
	opts   PublisherOptions
	logger log.Logger
}

func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Bucket == nil {
		return nil, xerrors.New("Bucket is required")
	}
	if opts.Key == "" {
		return nil, xerrors.New("Key is required")
	}
	if opts.SSMParam != "" && opts.SSM == nil {
		return nil, xerrors.New("SSM client is required when SSMParam is set")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Publisher{opts: opts, logger: opts.Logger}, nil
}

// NewSSMClient is a convenience for callers holding an aws.Config
func NewSSMClient(cfg aws.Config) *ssm.Client {
	return ssm.NewFromConfig(cfg)
}

// Published is what Publish wrote
type Published struct {
	Key          string
	SHA256       string
	SignatureKey string
	SSMVersion   int64
}

// Publish uploads the manifest, then its signature, then moves the SSM
// pointer. The pointer only moves once everything it refers to is stored.
func (p *Publisher) Publish(ctx context.Context, m Manifest) (Published, error) {
	raw, err := m.Encode()
	if err != nil {
		return Published{}, xerrors.Wrap(err, "encode manifest")
	}
	out := Published{Key: p.opts.Key, SHA256: cryptoutil.SHA256Hex(raw)}

	// clients must always see the newest pointer target
	hdrs := map[string]string{
		headers.CacheControl: cachepolicy.FormatMaxAge(0),
		headers.ContentType:  "application/json",
	}
	if err := p.opts.Bucket.NewKey(p.opts.Key).SetContents(ctx, raw, hdrs); err != nil {
		return out, xerrors.Wrapf(err, "upload manifest %s", p.opts.Key)
	}

	if p.opts.Signer != nil {
		sig, err := p.opts.Signer.Sign(ctx, raw)
		if err != nil {
			return out, xerrors.Wrapf(err, "sign manifest with %s", p.opts.Signer.KeyARN())
		}
		out.SignatureKey = p.opts.Key + ".sig"
		enc := []byte(base64.StdEncoding.EncodeToString(sig) + "\n")
		sigHdrs := map[string]string{
			headers.CacheControl: cachepolicy.FormatMaxAge(0),
			headers.ContentType:  "text/plain; charset=utf-8",
			"x-amz-meta-keyid":   p.opts.Signer.KeyARN(),
		}
		if err := p.opts.Bucket.NewKey(out.SignatureKey).SetContents(ctx, enc, sigHdrs); err != nil {
			return out, xerrors.Wrapf(err, "upload manifest signature %s", out.SignatureKey)
		}
	}

	if p.opts.SSMParam != "" {
		res, err := p.opts.SSM.PutParameter(ctx, &ssm.PutParameterInput{
			Name:      aws.String(p.opts.SSMParam),
			Value:     aws.String(out.SHA256),
			Type:      ssmtypes.ParameterTypeString,
			Overwrite: aws.Bool(true),
		})
		if err != nil {
			return out, xerrors.Wrapf(err, "put ssm parameter %s", p.opts.SSMParam)
		}
		out.SSMVersion = res.Version
	}

	p.logger.Info(ctx, "release published",
		"deploy_id", m.DeployID,
		"manifest", out.Key,
		"sha256", out.SHA256,
		"files", len(m.Files),
		"signed", out.SignatureKey != "",
		"ssm_param", p.opts.SSMParam,
	)
	return out, nil
}
