/*
Package ports defines the driven ports (interfaces) of the session storage coordinator.

These interfaces decouple the storage facade from the distributed map substrate,
allowing it to run on an in-process cluster, Redis, or any other key-value store
offering asynchronous access and predicate scans.

# Key Interfaces

  - SessionMap: The cluster-wide map of sessions keyed by session ID.
  - Future: A one-shot asynchronous result returned by GetAsync and RemoveAsync.
  - StatsSource: Entry count and memory cost sampling for metrics.
*/
package ports
