package cryptoutil

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// kmsSignAPI is the subset of the KMS API needed to sign.
// Extracted as an interface to enable unit testing without live AWS credentials.
type kmsSignAPI interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// KMSSigner signs the SHA-256 digest of a message with an asymmetric KMS key.
// Signing the digest keeps manifests of any size under the KMS 4KB message limit.
type KMSSigner struct {
	client kmsSignAPI
	keyARN string

	// Algorithm defaults to ECDSA_SHA_256; set RSASSA_PSS_SHA_256 for RSA keys
	Algorithm kmstypes.SigningAlgorithmSpec
}

func NewKMSSigner(client *kms.Client, keyARN string) *KMSSigner {
	return &KMSSigner{client: client, keyARN: keyARN}
}

func (s *KMSSigner) KeyARN() string { return s.keyARN }

// Sign returns the raw signature bytes KMS produced over sha256(msg)
func (s *KMSSigner) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, xerrors.New("kms signer not configured")
	}
	if s.keyARN == "" {
		return nil, xerrors.New("kms signer: key ARN is required")
	}
	alg := s.Algorithm
	if alg == "" {
		alg = kmstypes.SigningAlgorithmSpecEcdsaSha256
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyARN),
		Message:          digest(msg),
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: alg,
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "kms sign with %s", s.keyARN)
	}
	if len(out.Signature) == 0 {
		return nil, xerrors.Newf("kms sign with %s returned an empty signature", s.keyARN)
	}
	return out.Signature, nil
}
