package domain

// Predicate filters sessions during key/value scans of the backing store.
type Predicate func(s *Session) bool

// Match evaluates the predicate. A nil predicate matches everything.
func (p Predicate) Match(s *Session) bool {
	if p == nil {
		return true
	}
	return s != nil && p(s)
}

// All matches every session.
func All() Predicate {
	return nil
}

// ByUser matches sessions of one user within one context.
func ByUser(userID, contextID int) Predicate {
	return func(s *Session) bool {
		return s.UserID == userID && s.ContextID == contextID
	}
}

// ByContext matches every session of a context.
func ByContext(contextID int) Predicate {
	return func(s *Session) bool {
		return s.ContextID == contextID
	}
}

// ByContexts matches sessions belonging to any of the given contexts.
func ByContexts(contextIDs ...int) Predicate {
	set := make(map[int]struct{}, len(contextIDs))
	for _, id := range contextIDs {
		set[id] = struct{}{}
	}
	return func(s *Session) bool {
		_, ok := set[s.ContextID]
		return ok
	}
}

// ByRandomToken matches the session holding a random token.
func ByRandomToken(token string) Predicate {
	return func(s *Session) bool {
		return token != "" && s.RandomToken == token
	}
}

// ByAlternativeID matches the session holding an alternative ID, either as
// a field or in the attribute bag.
func ByAlternativeID(altID string) Predicate {
	return func(s *Session) bool {
		if altID == "" {
			return false
		}
		if s.AlternativeID == altID {
			return true
		}
		v, ok := s.Parameter(ParamAlternativeID)
		return ok && v == altID
	}
}

// ByAuthID matches the session holding an auth ID.
func ByAuthID(authID string) Predicate {
	return func(s *Session) bool {
		return authID != "" && s.AuthID == authID
	}
}
