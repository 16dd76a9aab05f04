package domain

import "time"

// Well-known parameter keys stored in Session.Parameters.
const (
	// ParamAlternativeID mirrors Session.AlternativeID for stores that only index parameters.
	ParamAlternativeID = "__session.altId"
	// ParamNode records the cluster node that last wrote the session.
	ParamNode = "__session.node"
)

// Session represents an authenticated user's login record.
// Values handed out by stores and the facade are copies; mutate them only
// through the storage facade.
type Session struct {
	ID        string `json:"id"`
	UserID    int    `json:"user_id"`
	ContextID int    `json:"context_id"`

	AuthID        string `json:"auth_id,omitempty"`
	Login         string `json:"login,omitempty"`
	Password      string `json:"password,omitempty"`
	RandomToken   string `json:"random_token,omitempty"`
	AlternativeID string `json:"alt_id,omitempty"`

	Client    string `json:"client,omitempty"`
	LocalIP   string `json:"local_ip,omitempty"`
	Hash      string `json:"hash,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// StaySignedIn requests the long-term idle window ("remember me").
	StaySignedIn bool `json:"stay_signed_in,omitempty"`
	// Transient sessions always use the short-term idle window.
	Transient bool `json:"transient,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// Parameters is the generic attribute bag.
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Parameters != nil {
		c.Parameters = make(map[string]string, len(s.Parameters))
		for k, v := range s.Parameters {
			c.Parameters[k] = v
		}
	}
	return &c
}

// Parameter returns a value from the attribute bag.
func (s *Session) Parameter(key string) (string, bool) {
	if s.Parameters == nil {
		return "", false
	}
	v, ok := s.Parameters[key]
	return v, ok
}

// SetParameter stores a value in the attribute bag, allocating it if needed.
func (s *Session) SetParameter(key, value string) {
	if s.Parameters == nil {
		s.Parameters = make(map[string]string)
	}
	s.Parameters[key] = value
}

// LongTerm reports whether the session belongs to the long-term idle class.
func (s *Session) LongTerm() bool {
	return s.StaySignedIn && !s.Transient
}
