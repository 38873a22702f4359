/*
Package session implements the per-session actor.

A Manager owns the bounded conversation History of every session id. All
operations on one id are serialized through a reference-counted mutex
registry, optionally backed by a ports.DistributedLocker so that several
replicas sharing one store also serialize. Distinct ids never contend.

Each Append reads the stored History, adds one Turn, evicts the oldest
turns beyond the limit (FIFO) and persists the full snapshot.
*/
package session
