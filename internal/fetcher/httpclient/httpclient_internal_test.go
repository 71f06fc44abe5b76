package httpclient

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	f := New(nil, Config{})
	assert.Equal(t, DefaultMaxBodyBytes, f.cfg.MaxBodyBytes)
	client, ok := f.doer.(*http.Client)
	require.True(t, ok)
	assert.IsType(t, &http.Transport{}, client.Transport)
}
