// Package cachepolicy decides the cache-control header a deployed file is
// uploaded with.
package cachepolicy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/keithlinneman/sitedeploy/internal/siteconfig"
)

const (
	// fingerprinted names change with their content, so they are cached for a year
	MaxCacheExpiration = 60 * 60 * 24 * 365

	// plain files when the site does not configure cache-duration
	DefaultCacheExpiration = 60 * 60

	HeaderCacheControl = "cache-control"
	maxAgePrefix       = "max-age="
)

// ErrInvalidDuration is returned when cache-duration is present but not an integer
var ErrInvalidDuration = errors.New("cachepolicy: cache-duration must be an integer")

// Lookup is the read-only view of site config the resolver needs.
// *siteconfig.Store satisfies it.
type Lookup interface {
	Get(key string) (any, bool)
}

// Options fields left nil take the package defaults. An explicit zero is kept.
type Options struct {
	MaxExpiration     *int
	DefaultExpiration *int
}

func (o *Options) setDefaults() {
	if o.MaxExpiration == nil {
		v := MaxCacheExpiration
		o.MaxExpiration = &v
	}
	if o.DefaultExpiration == nil {
		v := DefaultCacheExpiration
		o.DefaultExpiration = &v
	}
}

// Seconds returns a pointer to n for use in Options
func Seconds(n int) *int { return &n }

// Resolver has no state beyond its constants; Resolve is a pure function of its inputs.
type Resolver struct {
	opts Options
}

func New(opts Options) Resolver {
	opts.setDefaults()
	return Resolver{opts: opts}
}

func (r Resolver) MaxExpiration() int     { return *r.options().MaxExpiration }
func (r Resolver) DefaultExpiration() int { return *r.options().DefaultExpiration }

// options lets the zero Resolver behave like New(Options{})
func (r Resolver) options() Options {
	o := r.opts
	o.setDefaults()
	return o
}

// Expiration returns the cache lifetime in seconds. Zero and negative
// cache-duration values are passed through unchanged.
func (r Resolver) Expiration(fingerprinted bool, cfg Lookup) (int, error) {
	o := r.options()
	if fingerprinted {
		return *o.MaxExpiration, nil
	}
	if cfg == nil {
		return *o.DefaultExpiration, nil
	}
	v, ok := cfg.Get(siteconfig.KeyCacheDuration)
	if !ok || v == nil {
		return *o.DefaultExpiration, nil
	}
	n, err := toInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: got %v (%T)", ErrInvalidDuration, v, v)
	}
	return n, nil
}

// Resolve returns the cache-control value and the lifetime it encodes
func (r Resolver) Resolve(fingerprinted bool, cfg Lookup) (string, int, error) {
	n, err := r.Expiration(fingerprinted, cfg)
	if err != nil {
		return "", 0, err
	}
	return FormatMaxAge(n), n, nil
}

// FormatMaxAge renders max-age=<n> with no whitespace or suffix
func FormatMaxAge(seconds int) string {
	return maxAgePrefix + strconv.Itoa(seconds)
}

// ParseMaxAge is the inverse of FormatMaxAge
func ParseMaxAge(v string) (int, bool) {
	rest, ok := strings.CutPrefix(v, maxAgePrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if int64(int(n)) != n {
			return 0, errors.New("out of range")
		}
		return int(n), nil
	case int32:
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return toInt(i)
		}
		// 60.0 and 6e1 are integers to the schema validator
		f, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, err
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	}
	return 0, errors.New("unsupported type")
}

func floatToInt(f float64) (int, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, errors.New("not integral")
	}
	// -math.MinInt is the first value past math.MaxInt and is exact as a float64
	if f < math.MinInt || f >= -math.MinInt {
		return 0, errors.New("out of range")
	}
	return int(f), nil
}
