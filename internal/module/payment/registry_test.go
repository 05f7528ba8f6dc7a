package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowpay/server/internal/module/payment/domain"
	apperrors "github.com/flowpay/server/internal/shared/errors"
)

func TestProviderRegistry(t *testing.T) {
	reg := NewProviderRegistry()
	momo := &fakeProvider{name: domain.ProviderMoMo}
	stripe := &fakeProvider{name: domain.ProviderStripe}
	reg.Register(momo)
	reg.Register(stripe)

	t.Run("returns the registered provider", func(t *testing.T) {
		p, err := reg.Get(domain.ProviderMoMo)
		require.NoError(t, err)
		assert.Same(t, momo, p)
	})

	t.Run("rejects an unconfigured provider", func(t *testing.T) {
		_, err := reg.Get(domain.ProviderPayPal)
		assert.ErrorIs(t, err, apperrors.ErrUnsupportedProvider)
	})

	t.Run("lists all registered names", func(t *testing.T) {
		names := reg.List()
		assert.ElementsMatch(t, []domain.Provider{domain.ProviderMoMo, domain.ProviderStripe}, names)
	})

	t.Run("replaces a provider registered twice", func(t *testing.T) {
		replacement := &fakeProvider{name: domain.ProviderMoMo}
		reg.Register(replacement)

		p, err := reg.Get(domain.ProviderMoMo)
		require.NoError(t, err)
		assert.Same(t, replacement, p)
	})
}
