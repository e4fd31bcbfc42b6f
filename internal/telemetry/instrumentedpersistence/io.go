// Package instrumentedpersistence provides decorators that add tracing,
// metrics and logging to journal and key/value stores.
package instrumentedpersistence

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/google/uuid"
)

var instanceCounter atomic.Uint64

// instanceID returns an identifier for an open journal or keyspace.
//
// The counter is for humans reading logs. The UUID correlates the instance
// across traces.
func instanceID() string {
	return fmt.Sprintf(
		"#%d %s",
		instanceCounter.Add(1),
		uuid.NewString(),
	)
}

// ioMetrics is the set of instruments shared by journals and keyspaces.
type ioMetrics struct {
	open  telemetry.Instrument[int64]
	bytes telemetry.Instrument[int64]
	items telemetry.Instrument[int64]
	size  telemetry.Instrument[int64]
}

func newIOMetrics(r *telemetry.Recorder, item, unit string) ioMetrics {
	return ioMetrics{
		open: r.UpDownCounter(
			"open",
			"{"+item+"}",
			fmt.Sprintf("The number of %ss that are currently open.", item),
		),
		bytes: r.Counter(
			"io",
			"By",
			fmt.Sprintf("The cumulative size of the %s data that has been read and written.", item),
		),
		items: r.Counter(
			unit+".io",
			"{"+unit+"}",
			fmt.Sprintf("The number of %ss that have been read and written.", unit),
		),
		size: r.Histogram(
			unit+".size",
			"By",
			fmt.Sprintf("The sizes of the %ss that have been read and written.", unit),
		),
	}
}

// transfer records the transfer of a single record or pair of the given size.
func (m ioMetrics) transfer(ctx context.Context, size int, dir telemetry.Attr) {
	n := int64(size)
	m.bytes(ctx, n, dir)
	m.items(ctx, 1, dir)
	m.size(ctx, n, dir)
}

// printable returns attributes describing binary data, including the data
// itself if it is short printable ASCII text.
func printable(name string, data []byte) []telemetry.Attr {
	attrs := []telemetry.Attr{
		telemetry.Int(name+"_size", len(data)),
	}

	if len(data) == 0 || len(data) > 128 {
		return attrs
	}

	for _, octet := range data {
		if octet < ' ' || octet > '~' {
			return attrs
		}
	}

	return append(attrs, telemetry.String(name, string(data)))
}
