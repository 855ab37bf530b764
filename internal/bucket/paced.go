package bucket

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// Paced wraps b so every SetContents first waits on limiter. A nil limiter returns b.
func Paced(b Bucket, limiter *rate.Limiter) Bucket {
	if limiter == nil {
		return b
	}
	return &pacedBucket{next: b, limiter: limiter}
}

type pacedBucket struct {
	next    Bucket
	limiter *rate.Limiter
}

// NewKey passes name through unchanged
func (p *pacedBucket) NewKey(name string) Key {
	return &pacedKey{next: p.next.NewKey(name), limiter: p.limiter}
}

type pacedKey struct {
	next    Key
	limiter *rate.Limiter
}

func (k *pacedKey) Name() string { return k.next.Name() }

func (k *pacedKey) SetContents(ctx context.Context, data []byte, headers map[string]string) error {
	if err := k.limiter.Wait(ctx); err != nil {
		return xerrors.Wrapf(err, "wait for upload slot %s", k.next.Name())
	}
	return k.next.SetContents(ctx, data, headers)
}
