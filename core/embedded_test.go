package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miladsoleymani/cloudstream/core"
)

func TestEmbeddedHeaders(t *testing.T) {
	msg := core.NewMessage([]byte("hello"), core.Headers{
		core.HeaderContentType:   "text/plain",
		core.HeaderCorrelationID: "c-1",
		core.HeaderPartition:     2,
		"ignored":                "x",
	})

	data, err := core.EmbedHeaders(msg, []byte("hello"), append(core.StandardHeaders, core.HeaderPartition)...)
	require.NoError(t, err)

	headers, payload, err := core.ExtractHeaders(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
	assert.Equal(t, "text/plain", headers[core.HeaderContentType])
	assert.Equal(t, "c-1", headers[core.HeaderCorrelationID])
	assert.Equal(t, float64(2), headers[core.HeaderPartition])
	assert.NotContains(t, headers, core.HeaderOriginalContentType)
	assert.NotContains(t, headers, "ignored")
}

func TestExtractHeaders_PlainPayload(t *testing.T) {
	headers, payload, err := core.ExtractHeaders([]byte("plain"))
	require.NoError(t, err)
	assert.Nil(t, headers)
	assert.Equal(t, []byte("plain"), payload)
}

func TestExtractHeaders_Truncated(t *testing.T) {
	_, _, err := core.ExtractHeaders([]byte{0xff, 1, 5, 'a'})
	assert.Error(t, err)
}

func TestComponents(t *testing.T) {
	c := core.NewComponents()
	require.NoError(t, c.Register("in", 1))
	assert.ErrorIs(t, c.Register("in", 2), core.ErrConfiguration)
	assert.ErrorIs(t, c.Register(" ", 2), core.ErrConfiguration)

	v, ok := c.Lookup("in")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	created := 0
	create := func() (any, error) { created++; return "out", nil }
	v, err := c.LookupOrRegister("out", create)
	require.NoError(t, err)
	assert.Equal(t, "out", v)
	_, err = c.LookupOrRegister("out", create)
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}
