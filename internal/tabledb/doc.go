// Package tabledb keeps named databases of string tables in memory and
// persists each of them as a single snapshot file.
//
// # Overview
//
// A [Store] holds one database: an ordered set of tables, each with a column
// list fixed at creation and an ordered sequence of rows. A [Registry] hands
// out exactly one live Store per database name and manages the lifecycle of
// the files in the databases directory.
//
// # Durability
//
// Every mutating Store method rewrites the whole database through
// [snapshot.Encode] before returning. There is no append log, so each
// mutation costs O(total database size). When the write fails the in-memory
// mutation is reverted and the error is returned; memory never runs ahead of
// disk.
//
// # Concurrency
//
// A Store serializes mutations and their flush under a write lock; readers
// share a read lock and always receive copies. The Registry serializes open,
// create and delete of databases under its own mutex.
//
// # Corruption
//
// A snapshot that fails to decode is logged, a copy is kept next to it with
// a ".corrupt" suffix, and the database starts empty.
package tabledb
