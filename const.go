package mapi

// Wire constants (spec §3, §6).
const (
	// maxBlockPayload is the maximum payload carried by a single MAPI
	// block: 8*1024 - 2 bytes, leaving room for the 2-byte header.
	maxBlockPayload = 8*1024 - 2

	// blockHeaderSize is the size of the little-endian length/flag header
	// that prefixes every block.
	blockHeaderSize = 2

	// maxLineBuf caps line-buffer growth (spec §4.1).
	maxLineBuf = int(^uint(0)>>1) - 8

	// supportedProtocolVersion is the only MAPI protocol version this
	// driver speaks (spec §4.6).
	supportedProtocolVersion = 9

	// DefaultFetchSize is the caller-visible default fetch_size (spec §6).
	DefaultFetchSize = 250

	// defaultTTL bounds the number of redirect hops followed (spec §6).
	defaultTTL = 10
)

// ByteOrder is the server-announced byte order negotiated during the
// handshake (spec §3, §4.6).
type ByteOrder int

const (
	ByteOrderUnknown ByteOrder = iota
	ByteOrderLittleEndian
	ByteOrderBigEndian
)

// Language selects the session sub-protocol (spec §3, §6).
type Language int

const (
	LanguageUnknown Language = iota
	LanguageSQL
	LanguageMAL
	LanguageControl
)

func (l Language) String() string {
	switch l {
	case LanguageSQL:
		return "sql"
	case LanguageMAL:
		return "mal"
	case LanguageControl:
		return "control"
	default:
		return "unknown"
	}
}

// ParseLanguage maps a connection-parameter string to a Language.
func ParseLanguage(s string) Language {
	switch s {
	case "sql":
		return LanguageSQL
	case "mal":
		return LanguageMAL
	case "control":
		return LanguageControl
	default:
		return LanguageUnknown
	}
}

// HashAlgo is a password/challenge hash algorithm, ordered by the fixed
// strength preference spec §4.6 mandates (strongest first).
type HashAlgo int

const (
	HashUnknown HashAlgo = iota
	HashSHA512
	HashSHA384
	HashSHA256
	HashSHA1
	HashMD5
)

// hashStrengthOrder is walked in order when intersecting the server's
// supported list with the caller's preference (spec §4.6, DESIGN.md open
// question (c)).
var hashStrengthOrder = []HashAlgo{HashSHA512, HashSHA384, HashSHA256, HashSHA1, HashMD5}

func (h HashAlgo) String() string {
	switch h {
	case HashSHA512:
		return "SHA512"
	case HashSHA384:
		return "SHA384"
	case HashSHA256:
		return "SHA256"
	case HashSHA1:
		return "SHA1"
	case HashMD5:
		return "MD5"
	default:
		return "UNKNOWN"
	}
}

// ParseHashAlgo maps a server-supplied or caller-supplied algorithm name.
func ParseHashAlgo(s string) HashAlgo {
	switch s {
	case "SHA512":
		return HashSHA512
	case "SHA384":
		return HashSHA384
	case "SHA256":
		return HashSHA256
	case "SHA1":
		return HashSHA1
	case "MD5":
		return HashMD5
	default:
		return HashUnknown
	}
}
