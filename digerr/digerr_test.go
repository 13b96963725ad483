package digerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	base := New(NotFound, "store: /missing.txt")
	wrapped := fmt.Errorf("reading file: %w", base)

	require.True(t, Is(wrapped, NotFound))
	require.False(t, Is(wrapped, Integrity))
	require.False(t, Is(errors.New("plain"), NotFound))
}

func TestWrapPreservesCauseForErrorsIs(t *testing.T) {
	err := Wrap(IO, "layer: reading file", io.ErrUnexpectedEOF)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	require.True(t, Is(err, IO))
}

func TestSectionErrorsCarrySectionAndOffset(t *testing.T) {
	err := WrapSection("layer: somefile.dig", "index", 260, fmt.Errorf("Truncated"))
	require.True(t, Is(err, Integrity))
	require.Contains(t, err.Error(), "section=index")
	require.Contains(t, err.Error(), "offset=260")
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errors.New("plain")))
	require.Equal(t, 2, ExitCode(New(InvalidInput, "bad urn")))
	require.Equal(t, 3, ExitCode(fmt.Errorf("outer: %w", New(NotFound, "missing"))))
	require.Equal(t, 4, ExitCode(New(Integrity, "footer mismatch")))
	require.Equal(t, 4, ExitCode(New(Corruption, "truncated")))
	require.Equal(t, 5, ExitCode(New(IO, "disk")))
	require.Equal(t, 6, ExitCode(New(Concurrency, "lock busy")))
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "invalid_input", InvalidInput.String())
	require.Equal(t, "concurrency", Concurrency.String())
	require.Equal(t, "unknown", Kind(99).String())
}
