package test

import (
	"testing"

	"pgregory.net/rapid"
)

// FailerT is the subset of [testing.TB] needed to report failures. It is
// satisfied by both *testing.T and *rapid.T, so assertions can be used within
// property-based tests.
type FailerT interface {
	Helper()
	Log(...any)
	Fatal(...any)
	Fatalf(string, ...any)
}

// TestingT is a [FailerT] that can also register cleanup functions.
type TestingT interface {
	FailerT
	Cleanup(func())
}

var (
	_ TestingT = (testing.TB)(nil)
	_ FailerT  = (*rapid.T)(nil)
)
