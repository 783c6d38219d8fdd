// Package health serves the liveness and readiness endpoints.
//
// Readiness combines the [ShutdownGate], which fails as soon as a drain
// starts, with a check that the scratch directory still accepts new working
// directories. Probes compose with [All] and are bounded by [WithTimeout].
package health
