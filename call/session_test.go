package call

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsingh-rishi/pixa/workers"
)

func TestLazyRecognizerStartsOnFirstSend(t *testing.T) {
	conn := &fakeRecognizer{}
	r := newLazyRecognizer(context.Background(), conn, 0)
	assert.Equal(t, DefaultRecognizerRetry, r.backoff)
	assert.Equal(t, 0, conn.starts())

	require.NoError(t, r.Send([]byte("a")))
	require.NoError(t, r.Send([]byte("b")))
	assert.Equal(t, 1, conn.starts())
	assert.Equal(t, 2, conn.sent())

	require.NoError(t, r.Close())
	assert.True(t, conn.isClosed())
}

func TestLazyRecognizerRetriesAfterBackoff(t *testing.T) {
	conn := &fakeRecognizer{startErr: errors.New("dial refused")}
	now := time.Unix(1700000000, 0)
	r := newLazyRecognizer(context.Background(), conn, 5*time.Second)
	r.now = func() time.Time { return now }

	err := r.Send([]byte("a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial refused")
	assert.NotErrorIs(t, err, workers.ErrRecognizerUnavailable)

	now = now.Add(time.Second)
	assert.ErrorIs(t, r.Send([]byte("b")), workers.ErrRecognizerUnavailable)
	assert.Equal(t, 1, conn.starts())

	conn.mu.Lock()
	conn.startErr = nil
	conn.mu.Unlock()
	now = now.Add(5 * time.Second)
	require.NoError(t, r.Send([]byte("c")))
	require.NoError(t, r.Send([]byte("d")))
	assert.Equal(t, 2, conn.starts())
	assert.Equal(t, 2, conn.sent())
}

func TestNewSessionDoesNotStartRecognizer(t *testing.T) {
	h := newHarness(t, nil)
	h.deliver(t, "..")

	rec := h.recognizer("default")
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.starts())
	assert.Equal(t, 1, h.manager.Len())
}
