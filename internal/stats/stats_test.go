package stats

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWait = 500 * time.Millisecond
	testTick = 10 * time.Millisecond
)

func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	su.Run()
	defer su.Stop()

	su.Incr(MessagesPosted)
	su.Incr(MessagesPosted)
	su.Decr(MessagesPosted)

	assert.Eventually(t, func() bool {
		return su.vars.Get(MessagesPosted).String() == "1"
	}, testWait, testTick, "expected MessagesPosted to settle at 1")

	req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), MessagesPosted)
}
