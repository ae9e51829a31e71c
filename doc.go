// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package horn implements the storage and materialization core of a
bottom-up Datalog engine.

Extensional predicates are served by pluggable storage backends
registered through RegisterBackend, or by sealed in-memory relations.
The EDBLayer routes queries, cursors and cardinality probes to whichever
serves a predicate. Join output flows into result sinks: InterTableSink
buffers intermediate rows per rule-body block, while FinalTableSink
deduplicates rows, subtracts everything derived in earlier rounds, and
commits the remainder to a predicate's FCTable.
*/
package horn
