package txlog

import (
	"context"
	"fmt"

	"github.com/dogmatiq/rewind/persistence/kv"
	"google.golang.org/protobuf/encoding/protowire"
)

// state is the persisted state of the journals built for a single log name.
type state struct {
	// Generation is incremented each time the journal is rebuilt. Zero means
	// no journal has ever been started.
	Generation uint64

	// Sealed is true once every transaction has been written to the journal
	// of the current generation.
	Sealed bool

	// Count is the number of transactions in a sealed journal.
	Count uint64
}

func loadState(ctx context.Context, ks kv.Keyspace, name string) (state, error) {
	data, err := ks.Get(ctx, []byte(name))
	if err != nil {
		return state{}, err
	}

	var st state

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return state{}, fmt.Errorf("state of %s is corrupt: %w", name, protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, data)
		} else {
			var v uint64
			v, n = protowire.ConsumeVarint(data)

			switch num {
			case 1:
				st.Generation = v
			case 2:
				st.Sealed = protowire.DecodeBool(v)
			case 3:
				st.Count = v
			}
		}

		if n < 0 {
			return state{}, fmt.Errorf("state of %s is corrupt: %w", name, protowire.ParseError(n))
		}
		data = data[n:]
	}

	return st, nil
}

func saveState(ctx context.Context, ks kv.Keyspace, name string, st state) error {
	var data []byte

	data = protowire.AppendTag(data, 1, protowire.VarintType)
	data = protowire.AppendVarint(data, st.Generation)
	data = protowire.AppendTag(data, 2, protowire.VarintType)
	data = protowire.AppendVarint(data, protowire.EncodeBool(st.Sealed))
	data = protowire.AppendTag(data, 3, protowire.VarintType)
	data = protowire.AppendVarint(data, st.Count)

	return ks.Set(ctx, []byte(name), data)
}
