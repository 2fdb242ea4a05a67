package startup

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartgallery/smartgallery/gallery"
)

func joined(lines []string) string {
	return strings.ToLower(strings.Join(lines, "\n"))
}

func TestClassifyConfigErrorIsVerbatim(t *testing.T) {
	t.Parallel()

	// The typed error carries its own message; classification must not
	// rephrase it.
	_, err := gallery.New(log.NewNopLogger(), gallery.Config{UseManagedIdentity: true, ContainerName: "gallery"})
	require.Error(t, err)

	lines := classifyProvisionFailure(gallery.Config{UseManagedIdentity: true}, err)
	assert.Equal(t, []string{err.Error()}, lines)
}

func TestClassifyAuthenticationWithManagedIdentity(t *testing.T) {
	t.Parallel()

	cfg := gallery.Config{UseManagedIdentity: true, AccountName: "prodaccount"}
	err := errors.New("DefaultAzureCredential authentication failed")

	lines := classifyProvisionFailure(cfg, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, joined(lines), "managed identity")
	assert.Contains(t, joined(lines), "prodaccount")
}

func TestClassifyAuthenticationWithConnectionString(t *testing.T) {
	t.Parallel()

	cfg := gallery.Config{ConnectionString: "AccountName=acct;AccountKey=key"}
	err := errors.New("server failed to authenticate the request: Authentication error")

	lines := classifyProvisionFailure(cfg, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, joined(lines), "connection string")
}

func TestClassifyAccessDenied(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
	}{
		{name: "StatusCode", err: errors.New("RESPONSE 403: 403 Forbidden")},
		{name: "AuthorizationWord", err: errors.New("AuthorizationPermissionMismatch: this request is not authorized, authorization failed")},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			lines := classifyProvisionFailure(gallery.Config{}, tc.err)
			require.NotEmpty(t, lines)
			assert.Contains(t, joined(lines), "denied")
			assert.Contains(t, joined(lines), "storage blob data contributor")
		})
	}
}

func TestClassifyAccountNotFound(t *testing.T) {
	t.Parallel()

	cfg := gallery.Config{ConnectionString: "AccountName=missingaccount;AccountKey=key"}

	for _, err := range []error{
		errors.New("dial tcp: lookup missingaccount.blob.core.windows.net: host not found"),
		errors.New("RESPONSE 404: 404 The specified resource does not exist"),
	} {
		lines := classifyProvisionFailure(cfg, err)
		require.NotEmpty(t, lines)
		assert.Contains(t, joined(lines), "missingaccount")
		assert.Contains(t, joined(lines), "not found")
	}
}

func TestClassifyGenericPreservesMessage(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection reset by peer")
	err := fmt.Errorf("create the container, %w", inner)

	lines := classifyProvisionFailure(gallery.Config{}, err)
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "create the container, connection reset by peer")
	assert.Contains(t, lines[1], "connection reset by peer")
}

func TestClassifyOrderAuthenticationBeforeAuthorization(t *testing.T) {
	t.Parallel()

	// Both words present: the earlier rule wins.
	err := errors.New("authentication failed, authorization header malformed")

	lines := classifyProvisionFailure(gallery.Config{}, err)
	require.NotEmpty(t, lines)
	assert.Contains(t, joined(lines), "connection string")
	assert.NotContains(t, joined(lines), "denied")
}
