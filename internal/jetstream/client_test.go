package jetstream

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeURL(t *testing.T) {
	c := New("wss://jetstream2.us-east.bsky.network", []string{"social.psky.*"})

	t.Run("without cursor tails from now", func(t *testing.T) {
		raw, err := c.subscribeURL(0)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "/subscribe", u.Path)
		assert.Equal(t, []string{"social.psky.*"}, u.Query()["wantedCollections"])
		assert.Empty(t, u.Query().Get("cursor"))
	})

	t.Run("with cursor resumes", func(t *testing.T) {
		raw, err := c.subscribeURL(1725911162329308)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "1725911162329308", u.Query().Get("cursor"))
	})

	t.Run("multiple collection prefixes", func(t *testing.T) {
		c := New("wss://example.test", []string{"social.psky.chat.*", "social.psky.actor.*"})
		raw, err := c.subscribeURL(0)
		require.NoError(t, err)

		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Len(t, u.Query()["wantedCollections"], 2)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate([]byte("abc"), 5))
	assert.Equal(t, "abcde...", truncate([]byte("abcdefgh"), 5))
}
