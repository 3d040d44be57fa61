// Package configblob reads and rewrites the hex-encoded configuration blobs
// stored on slavedevice rows (curconfig, wantedconfig, unoccupiedconfig).
//
// Layout relied upon here: characters [8,10) hold the switch-on duration in
// seconds as one hex byte. Characters [0,8) and [10,14) are carried over
// unchanged on rewrite; anything past position 14 is not part of the
// rewritten blob.
package configblob

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const (
	durationStart = 8
	durationEnd   = 10
	blobEnd       = 14
)

var (
	// ErrMalformedBlob the blob is too short or its duration byte is not hex.
	ErrMalformedBlob = errors.New("malformed config blob")
	// ErrInvalidDuration the replacement duration is not exactly one hex byte.
	ErrInvalidDuration = errors.New("invalid duration")
)

var revisionPattern = regexp.MustCompile(`4850(\d{2})`)

// ExtractDurationSeconds returns the duration byte of blob in [0,255].
func ExtractDurationSeconds(blob string) (int, error) {
	if len(blob) < durationEnd {
		return 0, fmt.Errorf("%w: length %d", ErrMalformedBlob, len(blob))
	}
	v, err := strconv.ParseUint(blob[durationStart:durationEnd], 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: duration byte %q", ErrMalformedBlob, blob[durationStart:durationEnd])
	}
	return int(v), nil
}

// RewriteDuration replaces the duration byte of blob with newDurationHex.
// The result is blob[0:8] + newDurationHex + blob[10:min(14,len)].
func RewriteDuration(blob, newDurationHex string) (string, error) {
	if !isHexByte(newDurationHex) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDuration, newDurationHex)
	}
	if len(blob) < durationEnd {
		return "", fmt.Errorf("%w: length %d", ErrMalformedBlob, len(blob))
	}
	end := min(blobEnd, len(blob))
	return blob[:durationStart] + newDurationHex + blob[durationEnd:end], nil
}

// DurationHex formats seconds as the 2-digit lowercase hex duration byte.
func DurationHex(seconds int) (string, error) {
	if seconds < 0 || seconds > 0xff {
		return "", fmt.Errorf("%w: %d seconds out of range", ErrInvalidDuration, seconds)
	}
	return fmt.Sprintf("%02x", seconds), nil
}

// SWRevision extracts the two digit firmware revision from a swversion
// string such as "ICY485021". The first "4850NN" match wins, otherwise the
// trailing two characters are used when they are digits.
func SWRevision(swversion string) (int, bool) {
	if m := revisionPattern.FindStringSubmatch(swversion); m != nil {
		rev, _ := strconv.Atoi(m[1])
		return rev, true
	}
	if len(swversion) < 2 {
		return 0, false
	}
	tail := swversion[len(swversion)-2:]
	rev, err := strconv.Atoi(tail)
	if err != nil || tail[0] == '-' || tail[0] == '+' {
		return 0, false
	}
	return rev, true
}

// Label returns the report column label of a revision.
func Label(rev int, ok bool) string {
	if !ok {
		return "sw_unknown"
	}
	return fmt.Sprintf("sw%02d", rev)
}

func isHexByte(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}
