package tuple

import (
	"fmt"

	"digby/pkg/dberrors"
)

// maxLen is the largest key/value length digby accepts: §6's KeyTooLarge
// / ValueTooLarge fire at 2^32 and above.
const maxLen = uint64(1) << 32

// Processor turns a user (key, value) pair into an in-tree Tuple,
// externalizing it via the overflow Handler when necessary, per spec
// §4.5. Grounded on original_source/src/tuple_processor.rs /
// store_tuple_processor.rs for the decision order and tag assignment.
type Processor struct {
	smallValueThreshold int
	compressor          Compressor // nil disables compression entirely
	overflow            *Handler
	version             uint64
}

// NewProcessor builds a tuple processor for one commit. compressor may
// be nil (CompressionNone).
func NewProcessor(smallValueThreshold int, compressor Compressor, overflow *Handler, version uint64) *Processor {
	return &Processor{
		smallValueThreshold: smallValueThreshold,
		compressor:          compressor,
		overflow:            overflow,
		version:             version,
	}
}

// Build implements the decision order of spec §4.5.
func (p *Processor) Build(key, value []byte) (Tuple, error) {
	if uint64(len(key)) >= maxLen {
		return Tuple{}, fmt.Errorf("%w: key length %d", dberrors.ErrKeyTooLarge, len(key))
	}
	if uint64(len(value)) >= maxLen {
		return Tuple{}, fmt.Errorf("%w: value length %d", dberrors.ErrValueTooLarge, len(value))
	}

	oversizedKey := IsOversized(key)

	// 1. Plain in-tree tuple.
	if !oversizedKey && len(value) < p.smallValueThreshold {
		return Tuple{Key: key, Value: value, Version: p.version, Tag: TagNone}, nil
	}

	// 2. Value-compressed in-tree tuple (only possible when the key
	// itself fits inline).
	if p.compressor != nil && !oversizedKey {
		if compressed, err := p.compressor.Compress(value); err == nil && len(compressed) < p.smallValueThreshold {
			return Tuple{Key: key, Value: compressed, Version: p.version, Tag: TagValueCompressed}, nil
		}
	}

	// 3. Overflow tuple: compressed (key,value) when compression is
	// enabled and both compress cleanly, else the raw bytes.
	ot := OverflowTuple{Key: key, Value: value, Version: p.version, Tag: TagNone}
	if p.compressor != nil {
		ck, kerr := p.compressor.Compress(key)
		cv, verr := p.compressor.Compress(value)
		if kerr == nil && verr == nil {
			ot = OverflowTuple{Key: ck, Value: cv, Version: p.version, Tag: TagKeyValueCompressed}
		}
	}
	headPageNo, err := p.overflow.Store(ot)
	if err != nil {
		return Tuple{}, err
	}

	// 4. In-tree tuple pointing at the overflow chain.
	tag := TagValueOverflow
	switch {
	case oversizedKey && len(value) >= p.smallValueThreshold:
		tag = TagKeyValueOverflow
	case oversizedKey:
		tag = TagKeyOverflow
	}

	inTreeKey := key
	if oversizedKey {
		inTreeKey = ShortKey(key)
	}
	valBuf := make([]byte, 8)
	putU64(valBuf, headPageNo)
	return Tuple{Key: inTreeKey, Value: valBuf, Version: p.version, Tag: tag}, nil
}

// Resolve turns a leaf tuple found during a lookup back into the
// caller-visible value bytes for lookupKey, per spec §4.9/§9: oversized
// keys are looked up via their short key, so any tuple whose tag
// implies an overflow chain holding the full key must be verified
// against lookupKey — a short-key collision on the first 223 bytes is
// treated as not-found rather than returning the wrong value.
func (p *Processor) Resolve(lookupKey []byte, t Tuple) ([]byte, error) {
	switch t.Tag {
	case TagNone:
		return t.Value, nil

	case TagValueCompressed:
		if p.compressor == nil {
			return nil, fmt.Errorf("digby: tuple tagged ValueCompressed but no compressor configured")
		}
		return p.compressor.Decompress(t.Value)

	case TagValueOverflow, TagKeyOverflow, TagKeyValueOverflow:
		headPageNo := getU64(t.Value)
		ot, err := p.overflow.Load(headPageNo)
		if err != nil {
			return nil, err
		}
		key, value := ot.Key, ot.Value
		if ot.Tag == TagKeyValueCompressed {
			if p.compressor == nil {
				return nil, fmt.Errorf("digby: overflow tuple tagged KeyValueCompressed but no compressor configured")
			}
			if key, err = p.compressor.Decompress(key); err != nil {
				return nil, err
			}
			if value, err = p.compressor.Decompress(value); err != nil {
				return nil, err
			}
		}
		if IsOversized(lookupKey) && string(key) != string(lookupKey) {
			return nil, dberrors.ErrKeyNotFound
		}
		return value, nil

	default:
		return nil, fmt.Errorf("digby: unrecognized tuple tag %d", t.Tag)
	}
}
