/*
Package workflow implements a durable step orchestrator.

A run is an ordered list of named steps. Step memoizes each step's result in
the run record and persists it before returning, so re-executing the
workflow body after a crash skips straight to the first incomplete step:

	reply, err := workflow.Step(ctx, exec, "llm", func(ctx context.Context) (string, error) {
		return callModel(ctx)
	})

Failed steps are retried under a RetryPolicy with exponential backoff.
Retries re-run the whole step, so step bodies should be idempotent.
*/
package workflow
