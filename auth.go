package mapi

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Challenge is the server's unsolicited login challenge (spec §4.6):
// "salt:serverName:proto:hashList:byteOrder:passwordHashAlgo[:extra…]".
type Challenge struct {
	Salt             string
	ServerName       string
	ProtocolVersion  int
	HashList         []string
	ByteOrder        ByteOrder
	PasswordHashAlgo HashAlgo
	Extra            []string
}

// parseChallenge tokenizes the colon-separated challenge line.
func parseChallenge(line string) (*Challenge, error) {
	parts := strings.Split(line, ":")
	if len(parts) < 6 {
		return nil, &ParseError{Msg: "truncated challenge line", Offset: 0}
	}

	var proto int
	if _, err := fmt.Sscanf(parts[2], "%d", &proto); err != nil {
		return nil, errors.Wrap(err, "mapi: malformed protocol version in challenge")
	}
	if proto != supportedProtocolVersion {
		return nil, errors.Wrapf(ErrUnsupportedProto, "got version %d, require %d", proto, supportedProtocolVersion)
	}

	var order ByteOrder
	switch parts[4] {
	case "BIG":
		order = ByteOrderBigEndian
	case "LIT":
		order = ByteOrderLittleEndian
	default:
		return nil, errors.Wrapf(ErrUnknownByteOrder, "got %q", parts[4])
	}

	pwAlgo := ParseHashAlgo(parts[5])
	if pwAlgo == HashUnknown {
		return nil, errors.Wrapf(ErrUnknownHashAlgo, "password hash algo %q", parts[5])
	}

	var hashList []string
	if parts[3] != "" {
		hashList = strings.Split(parts[3], ",")
	}

	var extra []string
	if len(parts) > 6 {
		extra = parts[6:]
	}

	return &Challenge{
		Salt:             parts[0],
		ServerName:       parts[1],
		ProtocolVersion:  proto,
		HashList:         hashList,
		ByteOrder:        order,
		PasswordHashAlgo: pwAlgo,
		Extra:            extra,
	}, nil
}

// hashHex hashes data with algo and returns the lowercase hex digest.
func hashHex(algo HashAlgo, data []byte) (string, error) {
	var sum []byte
	switch algo {
	case HashSHA512:
		s := sha512.Sum512(data)
		sum = s[:]
	case HashSHA384:
		s := sha512.Sum384(data)
		sum = s[:]
	case HashSHA256:
		s := sha256.Sum256(data)
		sum = s[:]
	case HashSHA1:
		s := sha1.Sum(data)
		sum = s[:]
	case HashMD5:
		s := md5.Sum(data)
		sum = s[:]
	default:
		return "", errors.Wrapf(ErrUnknownHashAlgo, "%v", algo)
	}
	return hex.EncodeToString(sum), nil
}

// selectChallengeHash picks the strongest algorithm common to the
// server's supported list and the caller's optional preference override
// (spec §4.6; DESIGN.md open question (c): intersection, preferring
// strongest). An empty preference means "accept any server-supported
// algorithm".
func selectChallengeHash(serverList []string, preference []string) (HashAlgo, error) {
	serverSet := make(map[HashAlgo]bool, len(serverList))
	for _, s := range serverList {
		if a := ParseHashAlgo(strings.TrimSpace(s)); a != HashUnknown {
			serverSet[a] = true
		}
	}

	effective := serverSet
	if len(preference) > 0 {
		prefSet := make(map[HashAlgo]bool, len(preference))
		for _, p := range preference {
			if a := ParseHashAlgo(strings.TrimSpace(p)); a != HashUnknown {
				prefSet[a] = true
			}
		}
		effective = make(map[HashAlgo]bool)
		for a := range serverSet {
			if prefSet[a] {
				effective[a] = true
			}
		}
	}

	for _, candidate := range hashStrengthOrder {
		if effective[candidate] {
			return candidate, nil
		}
	}
	return HashUnknown, ErrNoCommonHash
}

// authResponse is the result of computing a login response: the wire
// string to send, plus the algorithms chosen (for logging).
type authResponse struct {
	Wire          string
	PasswordHash  HashAlgo
	ChallengeHash HashAlgo
	EffectiveUser string
}

// buildAuthResponse computes the MAPI login response for a parsed
// challenge (spec §4.6), including the merovingian credential override.
func buildAuthResponse(cfg *Config, ch *Challenge) (*authResponse, error) {
	user := cfg.User
	password := cfg.Password
	if ch.ServerName == "merovingian" && cfg.Language != LanguageControl {
		user = "merovingian"
		password = "merovingian"
	}

	pwDigestHex, err := hashHex(ch.PasswordHashAlgo, []byte(password))
	if err != nil {
		return nil, errors.Wrap(err, "mapi: computing password digest")
	}

	chosenHash, err := selectChallengeHash(ch.HashList, cfg.HashPreference)
	if err != nil {
		return nil, errors.Wrap(err, "mapi: negotiating challenge hash algorithm")
	}

	combined := append([]byte(pwDigestHex), []byte(ch.Salt)...)
	challengeHex, err := hashHex(chosenHash, combined)
	if err != nil {
		return nil, errors.Wrap(err, "mapi: computing challenge hash")
	}

	wire := fmt.Sprintf("BIG:%s:{%s}%s:%s:%s:", user, chosenHash.String(), challengeHex, cfg.Language.String(), cfg.Database)

	return &authResponse{
		Wire:          wire,
		PasswordHash:  ch.PasswordHashAlgo,
		ChallengeHash: chosenHash,
		EffectiveUser: user,
	}, nil
}
