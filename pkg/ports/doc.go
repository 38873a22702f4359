/*
Package ports defines the driven ports (interfaces) of parley.

These interfaces decouple the session actor and the step orchestrator from
external implementations, allowing them to work with various storage backends
and inference providers.

# Key Interfaces

  - HistoryStore: persists one bounded History blob per session.
  - RunStore: persists workflow run records so runs survive restarts.
  - DistributedLocker: provides distributed locking for concurrent session access across replicas.
  - InferenceClient: the opaque prompt -> completion function.
*/
package ports
