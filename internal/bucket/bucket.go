// Package bucket is the object-storage side of a deploy. The deploy unit
// only ever calls NewKey with a file's relative path and then SetContents
// with the payload and its final headers.
package bucket

import "context"

type Bucket interface {
	NewKey(name string) Key
}

type Key interface {
	Name() string
	SetContents(ctx context.Context, data []byte, headers map[string]string) error
}
