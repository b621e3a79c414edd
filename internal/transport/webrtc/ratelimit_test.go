package webrtc

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInviteLimiterBurstPerKey(t *testing.T) {
	l := newInviteLimiter(inviteRate, 2)
	now := time.Unix(1000, 0)

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))

	assert.True(t, l.allow("10.0.0.2", now), "keys are limited independently")
	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)), "tokens refill")
}

func TestInviteLimiterEvictsIdleKeys(t *testing.T) {
	l := newInviteLimiter(inviteRate, 1)
	now := time.Unix(1000, 0)

	for _, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		assert.True(t, l.allow(ip, now))
	}
	assert.Equal(t, 3, l.size())

	// 10.0.0.3 stays active; the others go quiet past the idle window.
	assert.True(t, l.allow("10.0.0.3", now.Add(inviteIdle/2)))
	assert.True(t, l.allow("10.0.0.3", now.Add(inviteIdle+time.Second)))
	assert.Equal(t, 1, l.size())

	assert.True(t, l.allow("10.0.0.1", now.Add(inviteIdle+time.Second)), "evicted key starts with a full burst")
	assert.Equal(t, 2, l.size())
}

func TestRemoteIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/invite", nil)
	r.RemoteAddr = "192.168.1.20:53211"
	assert.Equal(t, "192.168.1.20", remoteIP(r))

	r.RemoteAddr = "garbage"
	assert.Equal(t, "garbage", remoteIP(r))
}

func TestHandleInviteRejectsFlood(t *testing.T) {
	tr, _ := newTestTransport(t, "alice", false)
	tr.limiter = newInviteLimiter(inviteRate, 1)

	for i, want := range []int{400, 429} {
		r := httptest.NewRequest("GET", invitePath, nil)
		r.RemoteAddr = "10.0.0.9:4000"
		w := httptest.NewRecorder()
		tr.handleInvite(w, r)
		assert.Equal(t, want, w.Code, "request %d", i)
	}
}
