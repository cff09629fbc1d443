package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/glucosync/glucosync/pkg/config"
	"github.com/glucosync/glucosync/pkg/connector/core"
)

type noopAuth struct{}

func (noopAuth) Acquire(ctx context.Context) (core.Session, error) { return core.Session{}, nil }

func testFactory(cfg config.ProviderConfig, logger *zap.Logger) (*Provider, error) {
	return &Provider{Authenticator: noopAuth{}}, nil
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("testkind", testFactory))

	p, err := r.Create("testkind", config.NewProviderConfig("main", "testkind"), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, p.Authenticator)
}

func TestDuplicateKindRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("testkind", testFactory))
	assert.Error(t, r.Register("testkind", testFactory))
}

func TestCreateUnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("nope", config.NewProviderConfig("main", "nope"), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestListIsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("zeta", testFactory))
	require.NoError(t, r.Register("alpha", testFactory))

	assert.Equal(t, []string{"alpha", "zeta"}, r.List())
}
