package client

import (
	"errors"
)

var ErrEmptyCollection = errors.New("client: no packets to analyze")

// MissingSequences returns, in ascending order, every sequence in [1, max]
// that c does not hold, where max is the largest sequence present.
func MissingSequences(c *Collection) ([]int32, error) {
	return missingSequences(c, -1)
}

// missingSequences stops after limit entries when limit >= 0.
func missingSequences(c *Collection, limit int) ([]int32, error) {
	if c == nil || c.Len() == 0 {
		return nil, ErrEmptyCollection
	}
	var max int32
	for seq := range c.seen {
		if seq > max {
			max = seq
		}
	}
	missing := []int32{}
	for seq := int32(1); seq > 0 && seq <= max; seq++ {
		if c.Has(seq) {
			continue
		}
		if limit >= 0 && len(missing) >= limit {
			break
		}
		missing = append(missing, seq)
	}
	return missing, nil
}
