package secret

import (
	"bytes"
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"
)

func TestGenerate_DeterministicGivenSource(t *testing.T) {
	src := bytes.NewReader([]byte{0, 1, 2, 3, 4, 5, 6, 7, 0, 1, 2})
	got, err := New(WithSource(src)).Generate()
	require.NoError(t, err)
	require.Equal(t, "ABCDEFGHAb2", got)
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 250 is above the unbiased limit for a 62-char alphabet and is skipped.
	src := bytes.NewReader([]byte{250, 9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	got, err := New(WithSource(src)).Generate()
	require.NoError(t, err)
	require.Equal(t, "JAAAAAAAAa0", got)
}

func TestGenerate_ExhaustedSource(t *testing.T) {
	_, err := New(WithSource(bytes.NewReader([]byte{1, 2}))).Generate()
	require.Error(t, err)
}

func TestGenerate_Composition(t *testing.T) {
	g := New()
	for i := 0; i < 500; i++ {
		s, err := g.Generate()
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(s), MinLength+3)

		var hasUpper, hasLower, hasDigit bool
		for _, r := range s {
			require.True(t, strings.ContainsRune(Alphabet, r), "unexpected rune %q in %q", r, s)
			switch {
			case unicode.IsUpper(r):
				hasUpper = true
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsDigit(r):
				hasDigit = true
			}
		}
		require.True(t, hasUpper && hasLower && hasDigit, s)
	}
}

func TestWithLength_ClampsToMinimum(t *testing.T) {
	s, err := New(WithLength(2)).Generate()
	require.NoError(t, err)
	require.Len(t, s, MinLength+3)

	s, err = New(WithLength(20)).Generate()
	require.NoError(t, err)
	require.Len(t, s, 23)
}
