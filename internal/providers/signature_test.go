package providers

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalQuery(t *testing.T) {
	t.Run("sorts keys by byte order", func(t *testing.T) {
		v := url.Values{}
		v.Set("vnp_TxnRef", "CUP123")
		v.Set("vnp_Amount", "5000000")
		v.Set("vnp_Command", "pay")

		got := CanonicalQuery(v)
		assert.Equal(t, "vnp_Amount=5000000&vnp_Command=pay&vnp_TxnRef=CUP123", got)
	})

	t.Run("percent-encodes values", func(t *testing.T) {
		v := url.Values{}
		v.Set("vnp_OrderInfo", "nap vi 50k")

		assert.Equal(t, "vnp_OrderInfo=nap+vi+50k", CanonicalQuery(v))
	})

	t.Run("skips empty values", func(t *testing.T) {
		v := url.Values{}
		v.Set("a", "1")
		v.Set("b", "")
		v.Set("c", "3")

		assert.Equal(t, "a=1&c=3", CanonicalQuery(v))
	})

	t.Run("deterministic regardless of insertion order", func(t *testing.T) {
		v1 := url.Values{}
		v1.Set("z", "1")
		v1.Set("a", "2")
		v2 := url.Values{}
		v2.Set("a", "2")
		v2.Set("z", "1")

		assert.Equal(t, CanonicalQuery(v1), CanonicalQuery(v2))
	})
}

func TestSignVerifyHMAC(t *testing.T) {
	const secret = "test-secret"
	const payload = "amount=50000&code=CUP123"

	t.Run("round trip", func(t *testing.T) {
		sig := SignHMAC(SHA512, secret, payload)
		require.NotEmpty(t, sig)
		assert.True(t, VerifyHMAC(SHA512, secret, payload, sig))
	})

	t.Run("uppercase signature accepted", func(t *testing.T) {
		sig := SignHMAC(SHA256, secret, payload)
		assert.True(t, VerifyHMAC(SHA256, secret, payload, strings.ToUpper(sig)))
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		sig := SignHMAC(SHA256, secret, payload)
		assert.False(t, VerifyHMAC(SHA256, "other-secret", payload, sig))
	})

	t.Run("rejects tampered payload", func(t *testing.T) {
		sig := SignHMAC(SHA512, secret, payload)
		assert.False(t, VerifyHMAC(SHA512, secret, "amount=999999&code=CUP123", sig))
	})

	t.Run("rejects garbage signature", func(t *testing.T) {
		assert.False(t, VerifyHMAC(SHA256, secret, payload, "deadbeef"))
	})
}

func TestLimits_Check(t *testing.T) {
	limits := Limits{MinAmount: 10000, MaxAmount: 5000000}

	assert.NoError(t, limits.Check(10000))
	assert.NoError(t, limits.Check(5000000))
	assert.ErrorIs(t, limits.Check(9999), ErrInvalidAmount)
	assert.ErrorIs(t, limits.Check(5000001), ErrInvalidAmount)
	assert.ErrorIs(t, limits.Check(-50000), ErrInvalidAmount)
}
