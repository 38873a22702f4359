/*
Package observability turns lifecycle hooks into operational signals.

Metrics registers Prometheus collectors for turns, evictions, runs, steps and
inference latency on a private registry. LogHooks emits the same events as
structured log lines. Merge fans a single hook set out to several observers.
*/
package observability
