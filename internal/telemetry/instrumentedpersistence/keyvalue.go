package instrumentedpersistence

import (
	"context"

	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/persistence/kv"
)

// KeyValueStore is a decorator that adds instrumentation to a [kv.Store].
type KeyValueStore struct {
	Next      kv.Store
	Telemetry *telemetry.Provider
}

// Open returns the keyspace with the given name.
func (s *KeyValueStore) Open(ctx context.Context, name string) (kv.Keyspace, error) {
	r := s.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/persistence",
		"keyspace",
		telemetry.Type("store", s.Next),
		telemetry.String("instance", instanceID()),
		telemetry.String("name", name),
	)

	ctx, span := r.StartSpan(ctx, "keyspace.open")
	defer span.End()

	next, err := s.Next.Open(ctx, name)
	if err != nil {
		span.Error("could not open keyspace", err)
		return nil, err
	}

	ks := &keyspace{
		next:     next,
		recorder: r,
		io:       newIOMetrics(r, "keyspace", "pair"),
	}

	ks.io.open(ctx, 1)
	span.Debug("opened keyspace")

	return ks, nil
}

type keyspace struct {
	next     kv.Keyspace
	recorder *telemetry.Recorder
	io       ioMetrics
}

func (ks *keyspace) Get(ctx context.Context, k []byte) ([]byte, error) {
	ctx, span := ks.recorder.StartSpan(ctx, "keyspace.get", printable("key", k)...)
	defer span.End()

	v, err := ks.next.Get(ctx, k)
	if err != nil {
		span.Error("could not fetch value", err)
		return nil, err
	}

	span.SetAttributes(printable("value", v)...)
	ks.io.transfer(ctx, len(k)+len(v), telemetry.ReadDirection)
	span.Debug("fetched value")

	return v, nil
}

func (ks *keyspace) Has(ctx context.Context, k []byte) (bool, error) {
	ctx, span := ks.recorder.StartSpan(ctx, "keyspace.has", printable("key", k)...)
	defer span.End()

	ok, err := ks.next.Has(ctx, k)
	if err != nil {
		span.Error("could not check for presence of key", err)
		return false, err
	}

	span.SetAttributes(telemetry.Bool("key_present", ok))
	ks.io.transfer(ctx, len(k), telemetry.ReadDirection)
	span.Debug("checked for presence of key")

	return ok, nil
}

func (ks *keyspace) Set(ctx context.Context, k, v []byte) error {
	attrs := append(printable("key", k), printable("value", v)...)

	ctx, span := ks.recorder.StartSpan(ctx, "keyspace.set", attrs...)
	defer span.End()

	if err := ks.next.Set(ctx, k, v); err != nil {
		span.Error("could not set key/value pair", err)
		return err
	}

	ks.io.transfer(ctx, len(k)+len(v), telemetry.WriteDirection)

	if len(v) == 0 {
		span.Debug("deleted key/value pair")
	} else {
		span.Debug("set key/value pair")
	}

	return nil
}

func (ks *keyspace) Range(ctx context.Context, fn kv.RangeFunc) error {
	ctx, span := ks.recorder.StartSpan(ctx, "keyspace.range")
	defer span.End()

	var (
		count   int
		bytes   int
		stopped bool
	)

	err := ks.next.Range(
		ctx,
		func(ctx context.Context, k, v []byte) (bool, error) {
			count++
			bytes += len(k) + len(v)

			ks.io.transfer(ctx, len(k)+len(v), telemetry.ReadDirection)

			ok, err := fn(ctx, k, v)
			stopped = !ok
			return ok, err
		},
	)

	span.SetAttributes(
		telemetry.Int("pairs_read", count),
		telemetry.Int("bytes_read", bytes),
		telemetry.Bool("reached_end", !stopped && err == nil),
	)

	if err != nil {
		span.Error("could not read key/value pairs", err)
		return err
	}

	span.Debug("read key/value pairs")

	return nil
}

func (ks *keyspace) Close() error {
	ctx, span := ks.recorder.StartSpan(context.Background(), "keyspace.close")
	defer span.End()

	if ks.next == nil {
		span.Warn("keyspace is already closed")
		return nil
	}

	next := ks.next
	ks.next = nil
	ks.io.open(ctx, -1)

	if err := next.Close(); err != nil {
		span.Error("could not close keyspace", err)
		return err
	}

	span.Debug("closed keyspace")

	return nil
}
