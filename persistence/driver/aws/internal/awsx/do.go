// Package awsx contains utilities for making AWS API requests.
package awsx

import (
	"context"
)

// Do executes an AWS API request.
//
// dec is an optional decorator function that may mutate the input before it
// is sent. It returns options that are applied to the request, after any
// options passed to Do.
func Do[In, Out, Opt any](
	ctx context.Context,
	fn func(context.Context, *In, ...Opt) (Out, error),
	dec func(*In) []Opt,
	in *In,
	options ...Opt,
) (out Out, err error) {
	if dec != nil {
		options = append(options, dec(in)...)
	}

	return fn(ctx, in, options...)
}
