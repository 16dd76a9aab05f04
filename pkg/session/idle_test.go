package session_test

import (
	"testing"
	"time"

	"github.com/aretw0/sessiond/pkg/config"
	"github.com/aretw0/sessiond/pkg/domain"
	"github.com/aretw0/sessiond/pkg/session"
	"github.com/stretchr/testify/assert"
)

func TestIdlePolicy_Defaults(t *testing.T) {
	p := session.NewIdlePolicy(nil, nil)

	assert.Equal(t, time.Hour, p.MaxIdle(&domain.Session{}))
	assert.Equal(t, time.Hour, p.MaxIdle(&domain.Session{StaySignedIn: true, Transient: true}))
	assert.Equal(t, 168*time.Hour, p.MaxIdle(&domain.Session{StaySignedIn: true}))
	assert.Equal(t, time.Hour, p.MaxIdle(nil))
}

func TestIdlePolicy_FromProperties(t *testing.T) {
	props := config.Properties{
		session.PropertyMaxIdle:         "30M",
		session.PropertyLongTermMaxIdle: "2W",
	}
	p := session.NewIdlePolicy(props, nil)

	assert.Equal(t, 30*time.Minute, p.ShortTerm())
	assert.Equal(t, 14*24*time.Hour, p.LongTerm())
}

func TestIdlePolicy_MalformedFallsBack(t *testing.T) {
	props := config.Properties{
		session.PropertyMaxIdle:         "soon",
		session.PropertyLongTermMaxIdle: "",
	}
	p := session.NewIdlePolicy(props, nil)

	assert.Equal(t, session.DefaultMaxIdle, p.ShortTerm())
	assert.Equal(t, session.DefaultLongTermMaxIdle, p.LongTerm())
}

func TestIdlePolicy_OutOfRangeFallsBack(t *testing.T) {
	props := config.Properties{
		session.PropertyMaxIdle:         "9223372036854775807H",
		session.PropertyLongTermMaxIdle: "30501W",
	}
	p := session.NewIdlePolicy(props, nil)

	assert.Equal(t, session.DefaultMaxIdle, p.ShortTerm())
	assert.Equal(t, session.DefaultLongTermMaxIdle, p.LongTerm())
}

func TestIdlePolicy_CachedUntilReload(t *testing.T) {
	props := config.Properties{session.PropertyMaxIdle: "2H"}
	p := session.NewIdlePolicy(props, nil)
	assert.Equal(t, 2*time.Hour, p.ShortTerm())

	props[session.PropertyMaxIdle] = "3H"
	assert.Equal(t, 2*time.Hour, p.ShortTerm())

	p.Reload()
	assert.Equal(t, 3*time.Hour, p.ShortTerm())
}
