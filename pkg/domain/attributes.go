package domain

// Optional is a value with an explicit presence flag.
// The zero value is "not set".
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Attributes describes a partial update of a stored session.
// Only fields whose Set flag is true overwrite the stored values.
type Attributes struct {
	LocalIP   Optional[string]
	Client    Optional[string]
	Hash      Optional[string]
	UserAgent Optional[string]
}

// Empty reports whether no attribute is marked as set.
func (a Attributes) Empty() bool {
	return !a.LocalIP.Set && !a.Client.Set && !a.Hash.Set && !a.UserAgent.Set
}

// Apply writes the set attributes into s and reports whether any value changed.
func (a Attributes) Apply(s *Session) bool {
	changed := false
	apply := func(o Optional[string], field *string) {
		if o.Set && *field != o.Value {
			*field = o.Value
			changed = true
		}
	}
	apply(a.LocalIP, &s.LocalIP)
	apply(a.Client, &s.Client)
	apply(a.Hash, &s.Hash)
	apply(a.UserAgent, &s.UserAgent)
	return changed
}
