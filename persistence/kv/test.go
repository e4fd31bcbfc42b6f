package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

// RunTests runs tests that confirm a keyspace implementation behaves
// correctly.
func RunTests(
	t *testing.T,
	newStore func(t *testing.T) Store,
) {
	t.Run("type Store", func(t *testing.T) {
		t.Run("func Open()", func(t *testing.T) {
			t.Run("it isolates keyspaces with different names", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()

				store := newStore(t)
				k := []byte("<key>")

				names := []string{uuid.NewString(), uuid.NewString()}

				for i, name := range names {
					func() {
						ks, err := store.Open(ctx, name)
						if err != nil {
							t.Fatal(err)
						}
						defer ks.Close()

						v := []byte(fmt.Sprintf("<value-%d>", i))
						if err := ks.Set(ctx, k, v); err != nil {
							t.Fatal(err)
						}
					}()
				}

				for i, name := range names {
					func() {
						ks, err := store.Open(ctx, name)
						if err != nil {
							t.Fatal(err)
						}
						defer ks.Close()

						expectValue(ctx, t, ks, k, []byte(fmt.Sprintf("<value-%d>", i)))
					}()
				}
			})

			t.Run("allows keyspaces to be opened multiple times", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()

				store := newStore(t)
				name := uuid.NewString()

				ks1, err := store.Open(ctx, name)
				if err != nil {
					t.Fatal(err)
				}
				defer ks1.Close()

				ks2, err := store.Open(ctx, name)
				if err != nil {
					t.Fatal(err)
				}
				defer ks2.Close()

				expect := []byte("<value>")
				if err := ks1.Set(ctx, []byte("<key>"), expect); err != nil {
					t.Fatal(err)
				}

				expectValue(ctx, t, ks2, []byte("<key>"), expect)
			})
		})
	})

	t.Run("type Keyspace", func(t *testing.T) {
		t.Run("func Get()", func(t *testing.T) {
			t.Run("it returns an empty value if the key doesn't exist", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				expectValue(ctx, t, ks, []byte("<key>"), nil)
			})

			t.Run("it returns an empty value if the key has been deleted", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				k := []byte("<key>")

				if err := ks.Set(ctx, k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				if err := ks.Set(ctx, k, nil); err != nil {
					t.Fatal(err)
				}

				expectValue(ctx, t, ks, k, nil)
			})

			t.Run("it returns the most recent value if the key exists", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)

				for i := 0; i < 5; i++ {
					k := []byte(fmt.Sprintf("<key-%d>", i))

					if err := ks.Set(ctx, k, []byte("<stale>")); err != nil {
						t.Fatal(err)
					}

					if err := ks.Set(ctx, k, []byte(fmt.Sprintf("<value-%d>", i))); err != nil {
						t.Fatal(err)
					}
				}

				for i := 0; i < 5; i++ {
					expectValue(
						ctx,
						t,
						ks,
						[]byte(fmt.Sprintf("<key-%d>", i)),
						[]byte(fmt.Sprintf("<value-%d>", i)),
					)
				}
			})

			t.Run("it supports binary keys", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				k := []byte{0x00, 0xff, 0x10, 0x00}

				if err := ks.Set(ctx, k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				expectValue(ctx, t, ks, k, []byte("<value>"))
			})
		})

		t.Run("func Has()", func(t *testing.T) {
			t.Run("it returns false if the key doesn't exist", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				expectHas(ctx, t, ks, []byte("<key>"), false)
			})

			t.Run("it returns true if the key exists", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				k := []byte("<key>")

				if err := ks.Set(ctx, k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				expectHas(ctx, t, ks, k, true)
			})

			t.Run("it returns false if the key has been deleted", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)
				k := []byte("<key>")

				if err := ks.Set(ctx, k, []byte("<value>")); err != nil {
					t.Fatal(err)
				}

				if err := ks.Set(ctx, k, nil); err != nil {
					t.Fatal(err)
				}

				expectHas(ctx, t, ks, k, false)
			})
		})

		t.Run("func Range()", func(t *testing.T) {
			t.Run("it calls the function for each key in the keyspace", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)

				expect := map[string]string{}

				for n := 0; n < 100; n++ {
					k := fmt.Sprintf("<key-%d>", n)
					v := fmt.Sprintf("<value-%d>", n)
					if err := ks.Set(ctx, []byte(k), []byte(v)); err != nil {
						t.Fatal(err)
					}

					expect[k] = v
				}

				actual := map[string]string{}

				if err := ks.Range(
					ctx,
					func(ctx context.Context, k, v []byte) (bool, error) {
						actual[string(k)] = string(v)
						return true, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				if diff := cmp.Diff(expect, actual); diff != "" {
					t.Fatal(diff)
				}
			})

			t.Run("it stops iterating if the function returns false", func(t *testing.T) {
				t.Parallel()

				ctx, ks := setup(t, newStore)

				for n := 0; n < 2; n++ {
					k := fmt.Sprintf("<key-%d>", n)
					v := fmt.Sprintf("<value-%d>", n)
					if err := ks.Set(ctx, []byte(k), []byte(v)); err != nil {
						t.Fatal(err)
					}
				}

				called := false
				if err := ks.Range(
					ctx,
					func(ctx context.Context, k, v []byte) (bool, error) {
						if called {
							return false, errors.New("unexpected call")
						}

						called = true
						return false, nil
					},
				); err != nil {
					t.Fatal(err)
				}
			})
		})
	})
}

func setup(
	t *testing.T,
	newStore func(t *testing.T) Store,
) (context.Context, Keyspace) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	store := newStore(t)

	ks, err := store.Open(ctx, uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := ks.Close(); err != nil {
			t.Fatal(err)
		}
	})

	return ctx, ks
}

func expectValue(
	ctx context.Context,
	t *testing.T,
	ks Keyspace,
	k, expect []byte,
) {
	t.Helper()

	actual, err := ks.Get(ctx, k)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(expect, actual) {
		t.Fatalf(
			"unexpected value for key %q, want %q, got %q",
			string(k),
			string(expect),
			string(actual),
		)
	}
}

func expectHas(
	ctx context.Context,
	t *testing.T,
	ks Keyspace,
	k []byte,
	expect bool,
) {
	t.Helper()

	ok, err := ks.Has(ctx, k)
	if err != nil {
		t.Fatal(err)
	}

	if ok != expect {
		t.Fatalf("unexpected result from Has(%q), want %t, got %t", string(k), expect, ok)
	}
}
