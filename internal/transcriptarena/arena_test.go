package transcriptarena

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_AppendAndGet(t *testing.T) {
	a := New()
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, "sess-1", "Patient reports low mood."))
	require.NoError(t, a.Append(ctx, "sess-1", "PHQ-9 administered, score 11."))

	s, err := a.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "Patient reports low mood.\nPHQ-9 administered, score 11.", s.Text)
}

func TestArena_SessionsAreIndependent(t *testing.T) {
	a := New()
	ctx := context.Background()

	require.NoError(t, a.Append(ctx, "a", "alpha"))
	require.NoError(t, a.Append(ctx, "b", "beta"))

	sa, err := a.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", sa.Text)

	require.NoError(t, a.Delete(ctx, "a"))
	_, err = a.Get(ctx, "a")
	assert.Error(t, err)

	sb, err := a.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "beta", sb.Text)
}

func TestArena_GetUnknown(t *testing.T) {
	_, err := New().Get(context.Background(), "missing")
	assert.Error(t, err)
}
