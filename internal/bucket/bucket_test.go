package bucket

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/time/rate"
)

// fake S3

type fakeS3 struct {
	mu    sync.Mutex
	calls []*s3.PutObjectInput
	body  [][]byte
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	b, _ := io.ReadAll(in.Body)
	f.calls = append(f.calls, in)
	f.body = append(f.body, b)
	return &s3.PutObjectOutput{}, nil
}

// NewS3

func TestNewS3_Validation(t *testing.T) {
	if _, err := NewS3(S3Options{Client: &fakeS3{}}); err == nil {
		t.Fatal("expected error for missing Bucket")
	}
	if _, err := NewS3(S3Options{Bucket: "site"}); err == nil {
		t.Fatal("expected error for missing Client")
	}
}

func TestS3_ObjectKey(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"", "123.html", "123.html"},
		{"", "/index.html", "/index.html"},
		{"www", "css/a.css", "www/css/a.css"},
		{"www", "/a.css", "www/a.css"},
		{"/www/", "a.js", "www/a.js"},
	}
	for _, tt := range tests {
		b, err := NewS3(S3Options{Bucket: "site", Prefix: tt.prefix, Client: &fakeS3{}})
		if err != nil {
			t.Fatalf("NewS3: %v", err)
		}
		if got := b.objectKey(tt.name); got != tt.want {
			t.Errorf("objectKey(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestS3_SetContents(t *testing.T) {
	fake := &fakeS3{}
	b, _ := NewS3(S3Options{Bucket: "site", Prefix: "www", ACL: "public-read", Client: fake})

	key := b.NewKey("index.html")
	if key.Name() != "index.html" {
		t.Fatalf("Name() = %q", key.Name())
	}
	err := key.SetContents(t.Context(), []byte("abc"), map[string]string{
		"cache-control":    "max-age=3600",
		"content-type":     "text/html; charset=utf-8",
		"content-encoding": "gzip",
		"x-amz-meta-build": "42",
		"x-frame-options":  "DENY",
		"expires":          "Wed, 21 Oct 2015 07:28:00 GMT",
	})
	if err != nil {
		t.Fatalf("SetContents: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("PutObject calls = %d", len(fake.calls))
	}
	in := fake.calls[0]
	if aws.ToString(in.Bucket) != "site" || aws.ToString(in.Key) != "www/index.html" {
		t.Fatalf("target = %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.CacheControl) != "max-age=3600" {
		t.Fatalf("CacheControl = %q", aws.ToString(in.CacheControl))
	}
	if aws.ToString(in.ContentType) != "text/html; charset=utf-8" {
		t.Fatalf("ContentType = %q", aws.ToString(in.ContentType))
	}
	if aws.ToString(in.ContentEncoding) != "gzip" {
		t.Fatalf("ContentEncoding = %q", aws.ToString(in.ContentEncoding))
	}
	if in.Metadata["build"] != "42" || in.Metadata["x-frame-options"] != "DENY" {
		t.Fatalf("Metadata = %v", in.Metadata)
	}
	if in.Expires == nil || in.Expires.Year() != 2015 {
		t.Fatalf("Expires = %v", in.Expires)
	}
	if string(in.ACL) != "public-read" {
		t.Fatalf("ACL = %q", in.ACL)
	}
	if aws.ToInt64(in.ContentLength) != 3 || string(fake.body[0]) != "abc" {
		t.Fatalf("body = %q (len %d)", fake.body[0], aws.ToInt64(in.ContentLength))
	}
}

func TestS3_SetContentsRejectsHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"unparseable expires", map[string]string{"expires": "next tuesday"}},
		{"metadata collision", map[string]string{"foo": "a", "x-amz-meta-foo": "b"}},
		{"metadata collision mixed case", map[string]string{"X-Build": "a", "x-amz-meta-x-build": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{}
			b, _ := NewS3(S3Options{Bucket: "site", Client: fake})
			if err := b.NewKey("index.html").SetContents(t.Context(), []byte("x"), tt.headers); err == nil {
				t.Fatal("expected error")
			}
			if len(fake.calls) != 0 {
				t.Fatalf("PutObject calls = %d, want 0", len(fake.calls))
			}
		})
	}
}

func TestS3_SetContentsError(t *testing.T) {
	denied := errors.New("AccessDenied")
	b, _ := NewS3(S3Options{Bucket: "site", Client: &fakeS3{err: denied}})
	err := b.NewKey("a.css").SetContents(t.Context(), nil, nil)
	if !errors.Is(err, denied) {
		t.Fatalf("err = %v, want wrapped AccessDenied", err)
	}
}

// Memory

func TestMemory_RecordsNewKeyArgs(t *testing.T) {
	m := NewMemory()
	k := m.NewKey("123.html")
	if err := k.SetContents(t.Context(), []byte("abc"), map[string]string{"cache-control": "max-age=1"}); err != nil {
		t.Fatalf("SetContents: %v", err)
	}
	calls := m.NewKeyCalls()
	if len(calls) != 1 || calls[0] != "123.html" {
		t.Fatalf("NewKeyCalls = %v", calls)
	}
	obj, ok := m.Get("123.html")
	if !ok || string(obj.Data) != "abc" || obj.Headers["cache-control"] != "max-age=1" {
		t.Fatalf("stored object = %+v", obj)
	}
}

func TestMemory_CopiesInputs(t *testing.T) {
	m := NewMemory()
	data := []byte("abc")
	hdr := map[string]string{"a": "1"}
	_ = m.NewKey("k").SetContents(t.Context(), data, hdr)
	data[0] = 'z'
	hdr["a"] = "2"
	obj, _ := m.Get("k")
	if string(obj.Data) != "abc" || obj.Headers["a"] != "1" {
		t.Fatal("Memory must not alias caller buffers")
	}
}

func TestMemory_FailOn(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailOn = map[string]error{"bad.html": boom}
	if err := m.NewKey("bad.html").SetContents(t.Context(), nil, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, ok := m.Get("bad.html"); ok {
		t.Fatal("failed upload must not be stored")
	}
}

func TestMemory_CanceledContext(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := m.NewKey("a").SetContents(ctx, nil, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

// Paced

func TestPaced_NilLimiterPassthrough(t *testing.T) {
	m := NewMemory()
	if Paced(m, nil) != Bucket(m) {
		t.Fatal("Paced with nil limiter should return the bucket itself")
	}
}

func TestPaced_KeepsNameAndUploads(t *testing.T) {
	m := NewMemory()
	p := Paced(m, rate.NewLimiter(rate.Inf, 1))
	k := p.NewKey("a/b.css")
	if k.Name() != "a/b.css" {
		t.Fatalf("Name() = %q", k.Name())
	}
	if err := k.SetContents(t.Context(), []byte("x"), nil); err != nil {
		t.Fatalf("SetContents: %v", err)
	}
	if calls := m.NewKeyCalls(); len(calls) != 1 || calls[0] != "a/b.css" {
		t.Fatalf("inner NewKey calls = %v", calls)
	}
}

func TestPaced_WaitHonorsContext(t *testing.T) {
	m := NewMemory()
	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	lim.Allow() // drain the only token
	p := Paced(m, lim)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if err := p.NewKey("a").SetContents(ctx, nil, nil); err == nil {
		t.Fatal("expected wait error")
	}
	if len(m.Keys()) != 0 {
		t.Fatal("nothing should be uploaded when the wait fails")
	}
}
