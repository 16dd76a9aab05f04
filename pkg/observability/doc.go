/*
Package observability provides Prometheus instrumentation for the session storage.

It includes a collector that samples entry counts and memory cost of the backing
map on every scrape (owned vs. backup), and counters for facade operations and
coalesced lookups.
*/
package observability
