package miband

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCredentials(t *testing.T) {
	creds, freezed, err := ParseCredentials("aa:bb:cc:dd:ee:ff", "8fa9b42078627a654d22beff985655db")
	require.NoError(t, err)
	assert.False(t, freezed)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", creds.Address)
	assert.Len(t, creds.Key, 16, "32 hex characters MUST decode to a 16 byte key")
	assert.Equal(t, byte(0x8f), creds.Key[0])
	assert.Equal(t, byte(0xdb), creds.Key[15])
}

func TestParseCredentials_EmptyIsFreezed(t *testing.T) {
	for _, tc := range []struct{ name, mac, key string }{
		{"empty mac", "", "8fa9b42078627a654d22beff985655db"},
		{"empty key", "AA:BB:CC:DD:EE:FF", ""},
		{"both empty", "", "   "},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, freezed, err := ParseCredentials(tc.mac, tc.key)
			assert.NoError(t, err)
			assert.True(t, freezed)
		})
	}
}

func TestParseCredentials_Malformed(t *testing.T) {
	for _, tc := range []struct{ name, mac, key string }{
		{"31 character key", "AA:BB:CC:DD:EE:FF", "8fa9b42078627a654d22beff985655d"},
		{"non hex key", "AA:BB:CC:DD:EE:FF", "zzz9b42078627a654d22beff985655db"},
		{"short mac", "AA:BB:CC:DD:EE", "8fa9b42078627a654d22beff985655db"},
		{"dashed mac", "AA-BB-CC-DD-EE-FF", "8fa9b42078627a654d22beff985655db"},
		{"non hex mac", "GG:BB:CC:DD:EE:FF", "8fa9b42078627a654d22beff985655db"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, freezed, err := ParseCredentials(tc.mac, tc.key)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.False(t, freezed)
		})
	}
}
