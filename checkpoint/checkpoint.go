// Package checkpoint records the positions that snapshots were normalized to.
//
// A checkpoint describes the inputs to a normalization (the log, the content
// of the raw snapshot, the estimate and the window) and its outcome, so that
// later runs can detect when the same inputs resolve to a different anchor.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/persistence/kv"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protowire"
)

// Keyspace is the name of the keyspace that contains checkpoints.
const Keyspace = "checkpoints"

// Checkpoint is the outcome of normalizing a snapshot.
type Checkpoint struct {
	// Log is the name of the transaction log that the snapshot was normalized
	// against.
	Log string

	// SnapshotDigest is the digest of the raw snapshot, before normalization.
	SnapshotDigest uint64

	// Estimate is the approximate snapshot time.
	Estimate time.Time

	// Window is the half-width of the search window that produced the anchor.
	Window time.Duration

	// Anchor is the position that the snapshot was normalized to.
	Anchor change.Position

	// AnchorTime is the commit time of the transaction at the anchor.
	AnchorTime time.Time

	// Applied is the number of transactions that were applied to the raw
	// snapshot.
	Applied int
}

// New returns the checkpoint for a normalized snapshot.
func New(log string, rawDigest uint64, snap *normalize.Snapshot) Checkpoint {
	return Checkpoint{
		Log:            log,
		SnapshotDigest: rawDigest,
		Estimate:       snap.Estimate,
		Window:         snap.Window,
		Anchor:         snap.Anchor,
		AnchorTime:     snap.AnchorTime,
		Applied:        snap.Applied,
	}
}

// Key returns the key under which the checkpoint is stored.
//
// The key identifies the inputs to normalization, excluding the window. A
// snapshot normalized with a wider window replaces the narrower result.
func (c Checkpoint) Key() []byte {
	return []byte(fmt.Sprintf(
		"%s/%016x/%d",
		c.Log,
		c.SnapshotDigest,
		c.Estimate.UnixNano(),
	))
}

// Store persists checkpoints in a keyspace.
type Store struct {
	Keyspaces kv.Store
}

// Save records c, replacing any checkpoint with the same key.
func (s *Store) Save(ctx context.Context, c Checkpoint) error {
	ks, err := s.Keyspaces.Open(ctx, Keyspace)
	if err != nil {
		return err
	}
	defer ks.Close()

	return ks.Set(ctx, c.Key(), marshal(c))
}

// Load returns the checkpoint with the same key as c, if any.
func (s *Store) Load(ctx context.Context, c Checkpoint) (Checkpoint, bool, error) {
	ks, err := s.Keyspaces.Open(ctx, Keyspace)
	if err != nil {
		return Checkpoint{}, false, err
	}
	defer ks.Close()

	data, err := ks.Get(ctx, c.Key())
	if err != nil || len(data) == 0 {
		return Checkpoint{}, false, err
	}

	cp, err := unmarshal(data)
	if err != nil {
		return Checkpoint{}, false, err
	}

	return cp, true, nil
}

// List returns every checkpoint recorded for the given log, ordered by
// estimate.
func (s *Store) List(ctx context.Context, log string) ([]Checkpoint, error) {
	ks, err := s.Keyspaces.Open(ctx, Keyspace)
	if err != nil {
		return nil, err
	}
	defer ks.Close()

	var checkpoints []Checkpoint

	if err := ks.Range(
		ctx,
		func(ctx context.Context, k, v []byte) (bool, error) {
			cp, err := unmarshal(v)
			if err != nil {
				return false, fmt.Errorf("checkpoint %q is corrupt: %w", k, err)
			}

			if cp.Log == log {
				checkpoints = append(checkpoints, cp)
			}

			return true, nil
		},
	); err != nil {
		return nil, err
	}

	slices.SortFunc(
		checkpoints,
		func(a, b Checkpoint) int {
			return a.Estimate.Compare(b.Estimate)
		},
	)

	return checkpoints, nil
}

func marshal(c Checkpoint) []byte {
	var buf []byte

	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, c.Log)
	buf = protowire.AppendTag(buf, 2, protowire.Fixed64Type)
	buf = protowire.AppendFixed64(buf, c.SnapshotDigest)
	buf = protowire.AppendTag(buf, 3, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(c.Estimate.UnixNano()))
	buf = protowire.AppendTag(buf, 4, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(c.Window))
	buf = protowire.AppendTag(buf, 5, protowire.VarintType)
	buf = protowire.AppendVarint(buf, c.Anchor.Index)
	buf = protowire.AppendTag(buf, 6, protowire.BytesType)
	buf = protowire.AppendString(buf, c.Anchor.GTID)
	buf = protowire.AppendTag(buf, 7, protowire.VarintType)
	buf = protowire.AppendVarint(buf, c.Anchor.LogPos)
	buf = protowire.AppendTag(buf, 8, protowire.VarintType)
	buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(c.AnchorTime.UnixNano()))
	buf = protowire.AppendTag(buf, 9, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(c.Applied))

	return buf
}

func unmarshal(data []byte) (Checkpoint, error) {
	var c Checkpoint

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Checkpoint{}, protowire.ParseError(n)
		}
		data = data[n:]

		switch {
		case typ == protowire.BytesType && (num == 1 || num == 6):
			var v string
			v, n = protowire.ConsumeString(data)
			if num == 1 {
				c.Log = v
			} else {
				c.Anchor.GTID = v
			}

		case typ == protowire.Fixed64Type && num == 2:
			c.SnapshotDigest, n = protowire.ConsumeFixed64(data)

		case typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(data)

			switch num {
			case 3:
				c.Estimate = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case 4:
				c.Window = time.Duration(v)
			case 5:
				c.Anchor.Index = v
			case 7:
				c.Anchor.LogPos = v
			case 8:
				c.AnchorTime = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			case 9:
				c.Applied = int(v)
			}

		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}

		if n < 0 {
			return Checkpoint{}, protowire.ParseError(n)
		}
		data = data[n:]
	}

	return c, nil
}
