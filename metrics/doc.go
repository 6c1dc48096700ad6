/*
Package metrics implements collection of the runtime metrics of the
endpoint router.

Two backends are available, and they can be used at the same time:

Prometheus, using https://github.com/prometheus/client_golang, exposes the
counters, gauges and timers as vectors labeled by the metric key.

CodaHale, using https://github.com/rcrowley/go-metrics, exposes the metrics
as JSON in the DropWizard format.

The collected metrics include the durations and errors of the requests sent
to the index service, the number of retries caused by backpressure, the
reconciliation passes and the route changes they applied, and the time spent
serving the dynamically installed endpoints. For the keys, see the Key*
constants.
*/
package metrics
