/*
Package sessiond is a distributed session storage coordinator.

It stores authenticated user sessions in a key-value map shared by every node of
a cluster, and adds on top of it what a session-management service needs:

  - Single-flight lookups: concurrent lookups of one session ID on a node issue a
    single fetch against the backing store and share its outcome.
  - Idle classes: sessions expire after a short idle window (default 1 hour)
    unless they are "stay signed in" and not transient (default 1 week).
  - Fail fast: once the store reports the local member as inactive, every later
    operation fails immediately with domain.ErrStorageDown.
  - Metrics: entry count and memory cost of owned and backup entries, exported
    as Prometheus gauges.

# Usage

	svc, err := sessiond.Open(ctx, cfg, sessiond.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer svc.Close()

	if _, err := svc.Storage.AddIfAbsent(ctx, s); err != nil {
		log.Fatal(err)
	}
	s, err = svc.Storage.Lookup(ctx, s.ID)

# Backends

The "memory" backend keeps sessions in process and is meant for tests and single
node deployments. The "redis" backend stores each session in a hash and emulates
idle expiry with a Lua script refreshing the key TTL on every read.

Errors reported by Storage wrap the sentinels of package domain; branch on them
with errors.Is.
*/
package sessiond
