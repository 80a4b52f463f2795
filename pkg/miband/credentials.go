package miband

import (
	"encoding/hex"
	"net"
	"strings"
)

const (
	macLength     = 17
	authKeyLength = 32
	authKeyBytes  = 16
)

// Credentials identify a band and the shared secret used to authenticate with it.
type Credentials struct {
	Address string
	Key     []byte
}

// ParseCredentials validates a MAC address and a hex auth key.
//
// An empty address or key is not an error: it yields freezed=true, meaning the
// session must never touch the transport. Non-empty values of the wrong shape
// fail with ErrInvalidArgument.
func ParseCredentials(mac, authKey string) (creds Credentials, freezed bool, err error) {
	mac = strings.TrimSpace(mac)
	authKey = strings.TrimSpace(authKey)

	if mac == "" || authKey == "" {
		return Credentials{Address: strings.ToUpper(mac)}, true, nil
	}

	if len(mac) != macLength {
		return Credentials{}, false, invalidArgument("credentials", "MAC address must be %d characters, got %d", macLength, len(mac))
	}
	hw, perr := net.ParseMAC(mac)
	if perr != nil || len(hw) != 6 || strings.ContainsAny(mac, "-.") {
		return Credentials{}, false, invalidArgument("credentials", "MAC address %q is not colon separated hex octets", mac)
	}

	key, err := DecodeAuthKey(authKey)
	if err != nil {
		return Credentials{}, false, err
	}

	return Credentials{Address: strings.ToUpper(mac), Key: key}, false, nil
}

// DecodeAuthKey decodes a 32 character hex auth key into 16 bytes.
func DecodeAuthKey(s string) ([]byte, error) {
	if len(s) != authKeyLength {
		return nil, invalidArgument("credentials", "auth key must be %d hex characters, got %d", authKeyLength, len(s))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, newError(KindInvalidArgument, "credentials", "auth key is not hex", err)
	}
	return key, nil
}
