/*
Package domain contains the core models of the session storage coordinator.

It defines the session record shared across cluster nodes, the partial attribute
update used by the facade, the predicates evaluated by backing-store scans and the
error taxonomy callers branch on. This package is kept pure and free of external
dependencies like I/O or persistence.

# Key Entities

  - Session: An authenticated user's server-side login record, addressed by ID.
  - Attributes: A set of optional attribute changes; only fields marked as set are applied.
  - Predicate: A filter over sessions used by key/value scans (by user, context, token...).
*/
package domain
