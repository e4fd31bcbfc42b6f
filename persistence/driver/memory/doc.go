// Package memory provides journal and keyspace implementations that store data
// in memory.
//
// They serve as reference implementations, as the default cache for a single
// run, and as test doubles that can be configured to fail.
package memory
