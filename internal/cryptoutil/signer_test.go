package cryptoutil

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type fakeKMS struct {
	in  *kms.SignInput
	sig []byte
	err error
}

func (f *fakeKMS) Sign(_ context.Context, in *kms.SignInput, _ ...func(*kms.Options)) (*kms.SignOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &kms.SignOutput{Signature: f.sig}, nil
}

const testARN = "arn:aws:kms:us-east-2:111122223333:key/test"

func TestKMSSigner_SignsDigest(t *testing.T) {
	fake := &fakeKMS{sig: []byte{1, 2, 3}}
	s := &KMSSigner{client: fake, keyARN: testARN}

	msg := []byte(`{"files":[]}`)
	sig, err := s.Sign(t.Context(), msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !bytes.Equal(sig, []byte{1, 2, 3}) {
		t.Fatalf("sig = %v", sig)
	}

	want := sha256.Sum256(msg)
	if !bytes.Equal(fake.in.Message, want[:]) {
		t.Fatal("KMS should receive the SHA-256 digest, not the message")
	}
	if fake.in.MessageType != kmstypes.MessageTypeDigest {
		t.Fatalf("MessageType = %q", fake.in.MessageType)
	}
	if fake.in.SigningAlgorithm != kmstypes.SigningAlgorithmSpecEcdsaSha256 {
		t.Fatalf("SigningAlgorithm = %q", fake.in.SigningAlgorithm)
	}
	if aws.ToString(fake.in.KeyId) != testARN {
		t.Fatalf("KeyId = %q", aws.ToString(fake.in.KeyId))
	}
}

func TestKMSSigner_CustomAlgorithm(t *testing.T) {
	fake := &fakeKMS{sig: []byte{9}}
	s := &KMSSigner{client: fake, keyARN: testARN, Algorithm: kmstypes.SigningAlgorithmSpecRsassaPssSha256}
	if _, err := s.Sign(t.Context(), []byte("m")); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if fake.in.SigningAlgorithm != kmstypes.SigningAlgorithmSpecRsassaPssSha256 {
		t.Fatalf("SigningAlgorithm = %q", fake.in.SigningAlgorithm)
	}
}

func TestKMSSigner_Errors(t *testing.T) {
	boom := errors.New("throttled")
	tests := []struct {
		name   string
		signer *KMSSigner
	}{
		{"nil signer", nil},
		{"no client", &KMSSigner{keyARN: testARN}},
		{"no key", &KMSSigner{client: &fakeKMS{sig: []byte{1}}}},
		{"api error", &KMSSigner{client: &fakeKMS{err: boom}, keyARN: testARN}},
		{"empty signature", &KMSSigner{client: &fakeKMS{}, keyARN: testARN}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.signer.Sign(t.Context(), []byte("m")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
