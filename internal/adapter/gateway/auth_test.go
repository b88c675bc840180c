package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func TestStaticTokenAuthValid(t *testing.T) {
	auth := NewStaticTokenAuth([]Token{
		{Token: "secret-123", Name: "ops-console"},
		{Token: "secret-456", Name: "ci"},
	})

	info, err := auth.Authenticate("secret-456")
	require.NoError(t, err)
	assert.Equal(t, "ci", info.Name)
}

func TestStaticTokenAuthInvalid(t *testing.T) {
	auth := NewStaticTokenAuth([]Token{{Token: "secret-123", Name: "ops-console"}})

	_, err := auth.Authenticate("wrong-token")
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)
}

func TestStaticTokenAuthSkipsEmptyTokens(t *testing.T) {
	auth := NewStaticTokenAuth([]Token{{Token: "", Name: "blank"}})

	_, err := auth.Authenticate("")
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)
}

func TestStaticTokenAuthReturnsCopy(t *testing.T) {
	auth := NewStaticTokenAuth([]Token{{Token: "t", Name: "ops"}})

	first, err := auth.Authenticate("t")
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := auth.Authenticate("t")
	require.NoError(t, err)
	assert.Equal(t, "ops", second.Name)
}
