package provider

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Exclusive gives in-process stores an atomic FetchOrCreate: concurrent callers
// for the same key share one read-create-write cycle. The zero value is ready to use.
type Exclusive struct {
	g singleflight.Group
}

type exclusiveResult struct {
	value   []byte
	created bool
}

// Do runs get and, on a miss, create followed by set, at most once per key at a time.
// Followers that joined an in-flight cycle observe created=false.
func (x *Exclusive) Do(
	ctx context.Context,
	key string,
	get func(ctx context.Context) ([]byte, bool, error),
	set func(ctx context.Context, value []byte) error,
	create CreateFunc,
) ([]byte, bool, error) {
	leader := false
	v, err, _ := x.g.Do(key, func() (any, error) {
		leader = true
		if b, ok, err := get(ctx); err != nil {
			return nil, err
		} else if ok {
			return exclusiveResult{value: b}, nil
		}
		b, err := create(ctx)
		if err != nil {
			return nil, err
		}
		if err := set(ctx, b); err != nil {
			return nil, err
		}
		return exclusiveResult{value: b, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(exclusiveResult)
	return res.value, leader && res.created, nil
}
