package txlog

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"golang.org/x/exp/slices"
)

// Name returns a name that identifies the transactions decoded from src.
//
// It changes whenever the content of the log, the tables of interest or the
// time zone used to interpret the log's timestamps change.
func Name(
	ctx context.Context,
	src binlog.Source,
	catalog change.Catalog,
	loc *time.Location,
) (string, error) {
	r, err := src.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := xxhash.New()

	if _, err := io.Copy(h, contextReader{ctx, r}); err != nil {
		return "", fmt.Errorf("unable to hash %s: %w", src.Name(), err)
	}

	ids := make([]change.TableID, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b change.TableID) int {
		if a.Database != b.Database {
			if a.Database < b.Database {
				return -1
			}
			return +1
		}
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return +1
		}
		return 0
	})

	for _, id := range ids {
		s := catalog[id]
		fmt.Fprintf(h, "\x00table:%s", id)

		for _, col := range s.Columns {
			fmt.Fprintf(h, "\x00column:%s:%s", col.Name, col.Type)
		}

		for _, k := range s.PrimaryKey {
			fmt.Fprintf(h, "\x00key:%s", k)
		}
	}

	if loc == nil {
		loc = time.UTC
	}
	fmt.Fprintf(h, "\x00location:%s", loc)

	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// contextReader is an [io.Reader] that stops reading when its context is
// canceled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
