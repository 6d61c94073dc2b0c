// Package health provides dependency health checks for the dispatch
// daemon: a pluggable Checker interface with a TCP implementation,
// hysteresis-based status tracking so a single blip doesn't flip the
// verdict, and a Monitor that runs a checker on an interval and reports
// status changes.
//
// The dispatch daemon uses this to watch a MySQL backend's TCP
// reachability in the background, feeding the result into the /health
// endpoint independently of the store's own query path. The /ready
// endpoint does not include this check.
package health
