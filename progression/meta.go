package progression

import (
	"encoding/binary"
	"fmt"

	"github.com/tolelom/tolsettle/core"
)

// MetaVersion is the only packed-meta layout understood.
const MetaVersion = 0x01

// MaxMetaDeltas bounds how many NFTs a single result may credit.
const MaxMetaDeltas = 32

// NFTDelta is an experience bonus for one NFT carried in result meta.
type NFTDelta struct {
	TokenID string
	Exp     uint64
}

// DecodeMeta parses packed meta:
//
//	version(1) | count(1) | count × ( idLen(1) | id | exp(8, big-endian) )
//
// Nil or empty input means no meta. Anything malformed fails with
// ErrInvalidParams; trailing bytes are malformed.
func DecodeMeta(b []byte) ([]NFTDelta, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b) < 2 {
		return nil, fmt.Errorf("meta too short: %w", core.ErrInvalidParams)
	}
	if b[0] != MetaVersion {
		return nil, fmt.Errorf("meta version %d unsupported: %w", b[0], core.ErrInvalidParams)
	}
	count := int(b[1])
	if count > MaxMetaDeltas {
		return nil, fmt.Errorf("meta carries %d deltas, max %d: %w", count, MaxMetaDeltas, core.ErrInvalidParams)
	}
	rest := b[2:]
	deltas := make([]NFTDelta, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) < 1 {
			return nil, fmt.Errorf("meta entry %d truncated: %w", i, core.ErrInvalidParams)
		}
		idLen := int(rest[0])
		if idLen == 0 || len(rest) < 1+idLen+8 {
			return nil, fmt.Errorf("meta entry %d truncated: %w", i, core.ErrInvalidParams)
		}
		deltas = append(deltas, NFTDelta{
			TokenID: string(rest[1 : 1+idLen]),
			Exp:     binary.BigEndian.Uint64(rest[1+idLen : 1+idLen+8]),
		})
		rest = rest[1+idLen+8:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("meta has %d trailing bytes: %w", len(rest), core.ErrInvalidParams)
	}
	return deltas, nil
}

// EncodeMeta packs deltas in the layout DecodeMeta reads.
func EncodeMeta(deltas []NFTDelta) ([]byte, error) {
	if len(deltas) > MaxMetaDeltas {
		return nil, fmt.Errorf("%d deltas, max %d: %w", len(deltas), MaxMetaDeltas, core.ErrInvalidParams)
	}
	out := []byte{MetaVersion, byte(len(deltas))}
	var exp [8]byte
	for _, d := range deltas {
		if len(d.TokenID) == 0 || len(d.TokenID) > 255 {
			return nil, fmt.Errorf("token id length %d: %w", len(d.TokenID), core.ErrInvalidParams)
		}
		out = append(out, byte(len(d.TokenID)))
		out = append(out, d.TokenID...)
		binary.BigEndian.PutUint64(exp[:], d.Exp)
		out = append(out, exp[:]...)
	}
	return out, nil
}
