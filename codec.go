package mapi

import "unicode/utf8"

// validateUTF8Suffix checks that buf[from:] decodes as UTF-8 up to the last
// complete rune. It returns the offset up to which bytes are known-valid
// (which may be less than len(buf) if the final bytes are the prefix of a
// multi-byte rune still awaiting more data from the wire) and an error if a
// truly malformed byte sequence was found.
//
// Per spec §4.1, the codec is persistent across line boundaries and a
// malformed sequence is a protocol error that aborts the connection —
// but a rune split across two block payloads is not malformed, just
// incomplete, so we must not flag it until we know no more bytes are
// coming within the same rune.
func validateUTF8Suffix(buf []byte, from int) (validUpTo int, err error) {
	i := from
	for i < len(buf) {
		r, size := utf8.DecodeRune(buf[i:])
		if r == utf8.RuneError {
			if size == 0 {
				// empty input, shouldn't happen given the loop guard
				break
			}
			if size == 1 {
				remaining := len(buf) - i
				if remaining < utf8.UTFMax && couldBeIncomplete(buf[i:]) {
					// Might just be a rune split across the block
					// boundary; wait for more bytes before deciding.
					return i, nil
				}
				return i, &ParseError{Msg: "malformed UTF-8 sequence", Offset: i}
			}
		}
		i += size
	}
	return i, nil
}

// couldBeIncomplete reports whether the tail bytes look like the valid
// leading bytes of a multi-byte UTF-8 sequence that was simply cut short.
func couldBeIncomplete(tail []byte) bool {
	b := tail[0]
	switch {
	case b&0x80 == 0x00:
		return false // ASCII, never incomplete
	case b&0xE0 == 0xC0:
		return len(tail) < 2 && validContinuation(tail[1:])
	case b&0xF0 == 0xE0:
		return len(tail) < 3 && validContinuation(tail[1:])
	case b&0xF8 == 0xF0:
		return len(tail) < 4 && validContinuation(tail[1:])
	default:
		return false
	}
}

func validContinuation(bs []byte) bool {
	for _, b := range bs {
		if b&0xC0 != 0x80 {
			return false
		}
	}
	return true
}

// growLineBuf doubles cap(buf) until it can hold need bytes, capped at
// maxLineBuf (spec §4.1).
func growLineBuf(buf []byte, need int) ([]byte, error) {
	if cap(buf) >= need {
		return buf, nil
	}
	newCap := cap(buf)
	if newCap == 0 {
		newCap = 256
	}
	for newCap < need {
		if newCap > maxLineBuf/2 {
			newCap = maxLineBuf
			break
		}
		newCap *= 2
	}
	if newCap < need {
		return nil, &ParseError{Msg: "line buffer exceeds maximum size", Offset: need}
	}
	grown := make([]byte, len(buf), newCap)
	copy(grown, buf)
	return grown, nil
}
