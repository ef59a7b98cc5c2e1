package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qupskd/qupskd/qkd"
)

func TestInitialDeterministic(t *testing.T) {
	a := Initial(nil)
	b := Initial(nil)
	assert.True(t, a.Equal(b), "label-only initial states must match")
	assert.Equal(t, uint64(0), a.Generation)

	seeded := Initial([]byte("shared seed"))
	assert.False(t, seeded.Equal(a), "seeded state must differ from label-only state")
	assert.True(t, seeded.Equal(Initial([]byte("shared seed"))))
}

func TestAdvanceAgreesAcrossEnds(t *testing.T) {
	material := []qkd.Material{
		{ID: "K1", Secret: []byte{0x01, 0x02}},
		{ID: "K2", Secret: []byte{0x03, 0x04}},
	}

	left := Initial(nil)
	right := Initial(nil)

	for _, m := range material {
		var dl, dr DerivedSecret
		left, dl = Advance(left, qkd.Material{ID: m.ID, Secret: append([]byte(nil), m.Secret...)})
		right, dr = Advance(right, qkd.Material{ID: m.ID, Secret: append([]byte(nil), m.Secret...)})

		require.Equal(t, dl.Secret, dr.Secret, "both ends must derive the same secret")
		assert.True(t, left.Equal(right))
	}

	assert.Equal(t, uint64(2), left.Generation)
}

func TestAdvanceProducesDistinctRounds(t *testing.T) {
	s0 := Initial(nil)

	s1, d0 := Advance(s0, qkd.Material{ID: "K1", Secret: []byte{0x01, 0x02}})
	s2, d1 := Advance(s1, qkd.Material{ID: "K2", Secret: []byte{0x03, 0x04}})

	assert.Equal(t, uint64(0), d0.Generation)
	assert.Equal(t, uint64(1), d1.Generation)
	assert.NotEqual(t, d0.Secret, d1.Secret)
	assert.False(t, s1.Equal(s2))

	// The released secret must not equal the internal chaining value.
	assert.NotEqual(t, d0.Secret, s1.secret[:])
	assert.NotEqual(t, d1.Secret, s2.secret[:])
}

func TestAdvanceBindsKeyIdentifier(t *testing.T) {
	s0 := Initial(nil)

	_, a := Advance(s0, qkd.Material{ID: "K1", Secret: []byte{0x01}})
	_, b := Advance(s0, qkd.Material{ID: "K2", Secret: []byte{0x01}})

	assert.NotEqual(t, a.Secret, b.Secret, "derivation must bind the key identifier")
}

func TestDerivedSecretEncode(t *testing.T) {
	d := DerivedSecret{Secret: []byte{0x00, 0x01, 0x02}}
	assert.Equal(t, "AAEC", string(d.Encode()))
}

func TestRandom(t *testing.T) {
	a, err := Random("alias", 3)
	require.NoError(t, err)
	b, err := Random("alias", 3)
	require.NoError(t, err)

	assert.Len(t, a.Secret, SecretSize)
	assert.Equal(t, uint64(3), a.Generation)
	assert.NotEqual(t, a.Secret, b.Secret)
}

func TestLegacyCombineSymmetric(t *testing.T) {
	a := []byte("key material a")
	b := []byte("key material b")

	assert.Equal(t, LegacyCombine(a, b), LegacyCombine(b, a))
	assert.Len(t, LegacyCombine(a, b), 32)
	assert.NotEqual(t, LegacyCombine(a, b), LegacyCombine(a, a))
}

func TestFingerprintStable(t *testing.T) {
	s := Initial([]byte("seed"))
	assert.Equal(t, s.Fingerprint(), s.Fingerprint())
	assert.NotEmpty(t, s.Fingerprint())

	advanced, _ := Advance(s, qkd.Material{ID: "K1", Secret: []byte{0x01}})
	assert.NotEqual(t, s.Fingerprint(), advanced.Fingerprint())
}
