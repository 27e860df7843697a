package analyzer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/axiomhq/hyperloglog"
)

// ── Cardinality ────────────────────────────────────────────
// Exact distinct counting over 64-bit key hashes up to a limit, then a
// HyperLogLog sketch (precision 14, ~0.8% standard error). The switch is
// one-way; a profile reports its count as approximate from then on.

const (
	modeExact  byte = 0
	modeSketch byte = 1
)

// Cardinality estimates the number of distinct values of one field.
type Cardinality struct {
	limit  int
	exact  map[uint64]struct{}
	sketch *hyperloglog.Sketch
}

// NewCardinality returns an estimator that counts exactly up to limit
// distinct values.
func NewCardinality(limit int) *Cardinality {
	if limit <= 0 {
		limit = 1
	}
	return &Cardinality{limit: limit, exact: make(map[uint64]struct{})}
}

// Add records one value key.
func (c *Cardinality) Add(key string) {
	h := hashKey(key)
	if c.sketch != nil {
		c.sketch.Insert(hashBytes(h))
		return
	}
	c.exact[h] = struct{}{}
	if len(c.exact) > c.limit {
		c.promote()
	}
}

// Count returns the (possibly estimated) number of distinct values.
func (c *Cardinality) Count() int64 {
	if c.sketch != nil {
		return int64(c.sketch.Estimate())
	}
	return int64(len(c.exact))
}

// Approximate reports whether Count is a sketch estimate.
func (c *Cardinality) Approximate() bool {
	return c.sketch != nil
}

func (c *Cardinality) promote() {
	sk := hyperloglog.New14()
	for h := range c.exact {
		sk.Insert(hashBytes(h))
	}
	c.sketch = sk
	c.exact = nil
}

// MarshalBinary encodes the estimator state for persistence.
func (c *Cardinality) MarshalBinary() ([]byte, error) {
	if c.sketch != nil {
		data, err := c.sketch.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal sketch: %w", err)
		}
		return append([]byte{modeSketch}, data...), nil
	}
	buf := make([]byte, 1, 1+binary.MaxVarintLen64+8*len(c.exact))
	buf[0] = modeExact
	buf = binary.AppendUvarint(buf, uint64(len(c.exact)))
	for h := range c.exact {
		buf = binary.LittleEndian.AppendUint64(buf, h)
	}
	return buf, nil
}

// UnmarshalBinary restores state written by MarshalBinary. The limit set
// at construction is kept.
func (c *Cardinality) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty cardinality state")
	}
	switch data[0] {
	case modeSketch:
		sk := hyperloglog.New14()
		if err := sk.UnmarshalBinary(data[1:]); err != nil {
			return fmt.Errorf("unmarshal sketch: %w", err)
		}
		c.sketch = sk
		c.exact = nil
		return nil
	case modeExact:
		n, read := binary.Uvarint(data[1:])
		if read <= 0 {
			return errors.New("corrupt cardinality header")
		}
		rest := data[1+read:]
		if uint64(len(rest)) != n*8 {
			return fmt.Errorf("corrupt cardinality state: want %d hashes, have %d bytes", n, len(rest))
		}
		c.sketch = nil
		c.exact = make(map[uint64]struct{}, n)
		for i := uint64(0); i < n; i++ {
			c.exact[binary.LittleEndian.Uint64(rest[i*8:])] = struct{}{}
		}
		if len(c.exact) > c.limit {
			c.promote()
		}
		return nil
	}
	return fmt.Errorf("unknown cardinality mode %d", data[0])
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return h.Sum64()
}

func hashBytes(h uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], h)
	return b[:]
}
