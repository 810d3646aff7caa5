package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNew_ValidParts(t *testing.T) {
	id, err := New("codec", "acme", "default", "foov2")
	require.NoError(t, err)
	require.Equal(t, "codec", id.Domain())
	require.Equal(t, "acme", id.Namespace())
	require.Equal(t, "default", id.Group())
	require.Equal(t, "foov2", id.Name())
	require.Equal(t, "acme.default.codec.foov2", id.String())
}

func TestNew_RejectsInvalidParts(t *testing.T) {
	tests := []struct {
		testName string
		parts    [4]string
	}{
		{"empty domain", [4]string{"", "acme", "default", "x"}},
		{"empty name", [4]string{"codec", "acme", "default", ""}},
		{"uppercase", [4]string{"codec", "Acme", "default", "x"}},
		{"dot in part", [4]string{"codec", "ac.me", "default", "x"}},
		{"space in part", [4]string{"codec", "acme", "def ault", "x"}},
		{"too long", [4]string{"codec", strings.Repeat("a", 129), "default", "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.testName, func(t *testing.T) {
			_, err := New(tt.parts[0], tt.parts[1], tt.parts[2], tt.parts[3])
			require.ErrorIs(t, err, ErrInvalidPart)
		})
	}
}

func TestParse_RequiresFourParts(t *testing.T) {
	_, err := Parse("acme.default.codec")
	require.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = Parse("acme.default.codec.foo.extra")
	require.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestParse_RoundTrip(t *testing.T) {
	id, err := Parse("acme.billing.schema.invoice")
	require.NoError(t, err)
	require.Equal(t, "acme.billing.schema.invoice", id.String())
}

// Property: for all valid identity strings s, Parse(s).String() == s.
func TestParse_RoundTripProperty(t *testing.T) {
	partGen := rapid.StringMatching(`[a-z0-9_-]{1,16}`)
	rapid.Check(t, func(t *rapid.T) {
		s := partGen.Draw(t, "namespace") + "." +
			partGen.Draw(t, "group") + "." +
			partGen.Draw(t, "domain") + "." +
			partGen.Draw(t, "name")
		id, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if id.String() != s {
			t.Fatalf("round trip mismatch: %q -> %q", s, id.String())
		}
	})
}

func TestIdentity_Equality(t *testing.T) {
	a := MustNew("codec", "acme", "default", "foo")
	b := MustNew("codec", "acme", "default", "foo")
	c := MustNew("schema", "acme", "default", "foo")

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)

	// Usable as a map key.
	m := map[Identity]int{a: 1}
	require.Equal(t, 1, m[b])
}

func TestIdentity_WithDomain(t *testing.T) {
	a := MustNew("service", "acme", "default", "summarize")
	b, err := a.WithDomain("schema")
	require.NoError(t, err)
	require.Equal(t, "acme.default.schema.summarize", b.String())
	// Original is unchanged.
	require.Equal(t, "acme.default.service.summarize", a.String())
}

func TestIdentity_WithName(t *testing.T) {
	a := MustNew("codec", "acme", "default", "foo")
	b, err := a.WithName("foo-2")
	require.NoError(t, err)
	require.Equal(t, "foo-2", b.Name())

	_, err = a.WithName("")
	require.ErrorIs(t, err, ErrInvalidPart)
}

func TestIdentity_IsZero(t *testing.T) {
	require.True(t, Identity{}.IsZero())
	require.False(t, MustNew("codec", "acme", "default", "foo").IsZero())
}
