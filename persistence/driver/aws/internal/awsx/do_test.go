package awsx_test

import (
	"context"
	"strings"
	"testing"

	"github.com/dogmatiq/rewind/internal/test"
	. "github.com/dogmatiq/rewind/persistence/driver/aws/internal/awsx"
)

type input struct {
	Value string
}

type option func(*[]string)

func TestDo(t *testing.T) {
	call := func(_ context.Context, in *input, options ...option) (string, error) {
		var applied []string
		for _, opt := range options {
			opt(&applied)
		}
		return in.Value + ":" + strings.Join(applied, ","), nil
	}

	named := func(n string) option {
		return func(applied *[]string) {
			*applied = append(*applied, n)
		}
	}

	t.Run("it passes the input and options to the function", func(t *testing.T) {
		out, err := Do(
			context.Background(),
			call,
			nil,
			&input{Value: "<in>"},
			named("a"),
		)
		if err != nil {
			t.Fatal(err)
		}

		test.Expect(t, "unexpected output", out, "<in>:a")
	})

	t.Run("it applies the decorator before sending the request", func(t *testing.T) {
		out, err := Do(
			context.Background(),
			call,
			func(in *input) []option {
				in.Value = "<decorated>"
				return []option{named("b")}
			},
			&input{Value: "<in>"},
			named("a"),
		)
		if err != nil {
			t.Fatal(err)
		}

		test.Expect(t, "unexpected output", out, "<decorated>:a,b")
	})
}
