package sigil

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

func testToken(b byte) string {
	return hex.EncodeToString([]byte(strings.Repeat(string([]byte{b}), TokenSize)))
}

func testOffer() Descriptor {
	return Descriptor{
		Version:    Version,
		Type:       TypeOffer,
		Session:    uuid.NewString(),
		Candidates: []string{"ws://192.168.1.10:40123/sigil/x", "ws://127.0.0.1:40123/sigil/x"},
		Token:      testToken('a'),
	}
}

func TestRoundTrip(t *testing.T) {
	requireT := require.New(t)

	answer := Descriptor{
		Version: Version,
		Type:    TypeAnswer,
		Session: uuid.NewString(),
		Token:   testToken('b'),
	}

	for _, d := range []Descriptor{testOffer(), answer} {
		text, err := Serialize(d)
		requireT.NoError(err)
		requireT.True(strings.HasPrefix(text, Prefix))

		parsed, err := Parse(text)
		requireT.NoError(err)
		requireT.True(d.Equal(parsed), "%+v != %+v", d, parsed)
	}
}

func TestParseToleratesWrapping(t *testing.T) {
	requireT := require.New(t)

	d := testOffer()
	text, err := Serialize(d)
	requireT.NoError(err)

	wrapped := "  " + text[:10] + "\n" + text[10:30] + "\r\n\t" + text[30:] + "\n"
	parsed, err := Parse(wrapped)
	requireT.NoError(err)
	requireT.True(d.Equal(parsed))
}

func TestParseRejectsMalformed(t *testing.T) {
	encode := func(s string) string {
		return Prefix + base64.RawURLEncoding.EncodeToString([]byte(s))
	}

	cases := map[string]string{
		"empty":          "   ",
		"no prefix":      "hello",
		"bad base64":     Prefix + "!!!",
		"not json":       encode("not json"),
		"unknown field":  encode(`{"v":1,"type":"answer","session":"` + uuid.NewString() + `","token":"` + testToken('c') + `","sdp":"x"}`),
		"bad version":    encode(`{"v":2,"type":"answer","session":"` + uuid.NewString() + `","token":"` + testToken('c') + `"}`),
		"bad type":       encode(`{"v":1,"type":"pranswer","session":"` + uuid.NewString() + `","token":"` + testToken('c') + `"}`),
		"bad session":    encode(`{"v":1,"type":"answer","session":"nope","token":"` + testToken('c') + `"}`),
		"short token":    encode(`{"v":1,"type":"answer","session":"` + uuid.NewString() + `","token":"abcd"}`),
		"offer no cands": encode(`{"v":1,"type":"offer","session":"` + uuid.NewString() + `","token":"` + testToken('c') + `"}`),
		"http cand":      encode(`{"v":1,"type":"offer","session":"` + uuid.NewString() + `","candidates":["http://x:1/"],"token":"` + testToken('c') + `"}`),
		"trailing":       encode(`{"v":1,"type":"answer","session":"` + uuid.NewString() + `","token":"` + testToken('c') + `"}{}`),
		"too long":       Prefix + strings.Repeat("A", MaxLength),
	}

	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			require.ErrorIs(t, err, fault.ErrValidation)
		})
	}
}

func TestSerializeRejectsInvalid(t *testing.T) {
	d := testOffer()
	d.Candidates = nil
	_, err := Serialize(d)
	require.ErrorIs(t, err, fault.ErrValidation)
}

func TestRenderQR(t *testing.T) {
	requireT := require.New(t)

	text, err := Serialize(testOffer())
	requireT.NoError(err)

	qr, err := RenderQR(text)
	requireT.NoError(err)
	requireT.Greater(len(strings.Split(qr, "\n")), 10)
}
