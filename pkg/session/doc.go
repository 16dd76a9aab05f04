/*
Package session implements the distributed session storage coordinator.

It provides the Storage facade used by the session-management service on every
cluster node. Storage sits on top of a ports.SessionMap and adds per-key
single-flight lookups (Synchronizer), short/long idle-time classes (IdlePolicy),
fail-fast behaviour once the backing store becomes unavailable, and translation
of store failures into the errors defined in package domain.

Writes are read-modify-write without optimistic concurrency control: concurrent
writers to the same session ID may lose updates (last write wins).
*/
package session
