package pathkey_test

import (
	"testing"

	. "github.com/dogmatiq/rewind/persistence/internal/pathkey"
)

func TestNew(t *testing.T) {
	t.Run("it escapes separators within elements", func(t *testing.T) {
		cases := []struct {
			Path []string
			Want string
		}{
			{[]string{"txlog"}, "txlog"},
			{[]string{"txlog", "abc", "1"}, "txlog/abc/1"},
			{[]string{"foo/", "bar"}, `foo\//bar`},
			{[]string{"foo", "/bar"}, `foo/\/bar`},
			{[]string{`foo\`, "bar"}, `foo\\/bar`},
		}

		seen := map[string]struct{}{}

		for _, c := range cases {
			got, err := New(c.Path)
			if err != nil {
				t.Fatal(err)
			}

			if got != c.Want {
				t.Fatalf("unexpected key for %q, want %q, got %q", c.Path, c.Want, got)
			}

			if _, ok := seen[got]; ok {
				t.Fatalf("key %q is not unique", got)
			}
			seen[got] = struct{}{}
		}
	})

	t.Run("it rejects empty paths", func(t *testing.T) {
		if _, err := New(nil); err == nil {
			t.Fatal("expected an error")
		}

		if _, err := New([]string{"foo", ""}); err == nil {
			t.Fatal("expected an error")
		}
	})
}
