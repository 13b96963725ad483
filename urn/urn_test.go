package urn

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func hex64(fill byte) string {
	return strings.Repeat(string([]byte{hexDigit(fill >> 4), hexDigit(fill & 0xf)}), 32)
}

func hexDigit(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'a' + (n - 10)
}

func TestParseMinimal(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01)
	u, err := Parse(s)
	require.NoError(t, err)
	require.Nil(t, u.RootHash)
	require.Nil(t, u.Path)
	require.Nil(t, u.Range)
	require.Equal(t, hashx01(t), u.StoreID.String())
}

func hashx01(t *testing.T) string {
	t.Helper()
	return hex64(0x01)
}

func TestParseFull(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + ":" + hex64(0x02) + "/a/b.txt#bytes=10-20"
	u, err := Parse(s)
	require.NoError(t, err)
	require.NotNil(t, u.RootHash)
	require.Equal(t, hex64(0x02), u.RootHash.String())
	require.NotNil(t, u.Path)
	require.Equal(t, "a/b.txt", *u.Path)
	require.NotNil(t, u.Range)
	require.Equal(t, uint64(10), u.Range.Start)
	require.Equal(t, uint64(20), u.Range.End)
	require.True(t, u.Range.EndSet)
}

func TestParseOpenEndedRange(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "/f#bytes=100-"
	u, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, uint64(100), u.Range.Start)
	require.False(t, u.Range.EndSet)
}

func TestParseSuffixRange(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "/f#bytes=-50"
	u, err := Parse(s)
	require.NoError(t, err)
	require.True(t, u.Range.SuffixSet)
	require.Equal(t, uint64(50), u.Range.Suffix)
}

func TestParseRejectsRangeWithoutPath(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "#bytes=0-10"
	_, err := Parse(s)
	require.Error(t, err)
}

func TestParseRejectsBadPrefix(t *testing.T) {
	_, err := Parse("not-a-urn")
	require.Error(t, err)
}

func TestParseRejectsShortStoreID(t *testing.T) {
	_, err := Parse("urn:dig:chia:abcd")
	require.Error(t, err)
}

func TestParseRejectsDotDotPath(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "/../etc/passwd"
	_, err := Parse(s)
	require.Error(t, err)
}

func TestParseRejectsBackslashPath(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "/a\\b"
	_, err := Parse(s)
	require.Error(t, err)
}

func TestParsePercentDecodesPath(t *testing.T) {
	s := "urn:dig:chia:" + hex64(0x01) + "/a%20b.txt"
	u, err := Parse(s)
	require.NoError(t, err)
	require.Equal(t, "a b.txt", *u.Path)
}

func TestByteRangeResolveClosed(t *testing.T) {
	r := ByteRange{Start: 10, End: 20, EndSet: true}
	start, end, err := r.Resolve(1000)
	require.NoError(t, err)
	require.Equal(t, uint64(10), start)
	require.Equal(t, uint64(20), end)
}

func TestByteRangeResolveClosedEndClampsToFileSize(t *testing.T) {
	r := ByteRange{Start: 10, End: 999999, EndSet: true}
	_, end, err := r.Resolve(100)
	require.NoError(t, err)
	require.Equal(t, uint64(99), end)
}

func TestByteRangeResolveSuffix(t *testing.T) {
	r := ByteRange{SuffixSet: true, Suffix: 10}
	start, end, err := r.Resolve(100)
	require.NoError(t, err)
	require.Equal(t, uint64(90), start)
	require.Equal(t, uint64(99), end)
}

func TestByteRangeResolveOpenEnd(t *testing.T) {
	r := ByteRange{Start: 50}
	start, end, err := r.Resolve(100)
	require.NoError(t, err)
	require.Equal(t, uint64(50), start)
	require.Equal(t, uint64(99), end)
}

func TestByteRangeStringRoundTripsIntoKeyForm(t *testing.T) {
	require.Equal(t, "10-20", ByteRange{Start: 10, End: 20, EndSet: true}.String())
	require.Equal(t, "10-", ByteRange{Start: 10}.String())
	require.Equal(t, "-10", ByteRange{SuffixSet: true, Suffix: 10}.String())
}

func TestPseudoRandomDeterministicAndDistinctPerURN(t *testing.T) {
	a1 := PseudoRandomFixture(t, "urn:dig:chia:"+hex64(0x01)+"/x.dat", 4096)
	a2 := PseudoRandomFixture(t, "urn:dig:chia:"+hex64(0x01)+"/x.dat", 4096)
	require.Equal(t, a1, a2)

	b := PseudoRandomFixture(t, "urn:dig:chia:"+hex64(0x02)+"/x.dat", 4096)
	require.NotEqual(t, a1, b)
}

func PseudoRandomFixture(t *testing.T, urnString string, length int) []byte {
	t.Helper()
	return PseudoRandom(urnString, length)
}
