// Package presence keeps the shared cursor state of every connected client and
// replicates changes to all of them.
//
// A Hub owns the session Registry and serializes joins, inbound cursor
// updates, idle sweeps and departures behind one mutex; each of those runs
// its registry mutation and the resulting broadcast as one atomic step. The
// IdleMonitor drives Hub.SweepIdle on a fixed interval.
package presence
