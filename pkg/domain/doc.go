/*
Package domain contains the core domain models of parley.

It defines the entities shared by the session actor, the step orchestrator and
the adapters. This package is kept pure and free of I/O, following Hexagonal
Architecture principles.

# Key Entities

  - Turn: one user message paired with one generated reply and a timestamp.
  - History: the bounded, ordered log of Turns for one session.
  - WorkflowRun: one execution of the ordered step list, with durable progress.
  - Prompt / Completion: the request and response exchanged with an inference backend.
*/
package domain
