package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDepthUpdateValidator_ValidateFirst(t *testing.T) {
	v := DepthUpdateValidator{}

	tests := []struct {
		name        string
		first, last uint64
		lastApplied uint64
		expected    error
	}{
		// u <= lastUpdateId
		{"Outdated", 100, 124, 124, ErrOrderBookUpdateIsOutdated},
		// 123 <= 123+1 && 124 >= 123+1
		{"StraddlesSnapshot", 123, 124, 123, nil},
		{"StartsRightAfter", 124, 140, 123, nil},
		{"WideRange", 95, 101, 100, nil},
		// U > lastUpdateId+1
		{"Gap", 125, 136, 122, ErrOrderBookUpdateIsOutOfSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upd := &OrderBookUpdate{FirstUpdateID: tt.first, FinalUpdateID: tt.last}
			assert.Equal(t, tt.expected, v.ValidateFirst(upd, tt.lastApplied))
		})
	}
}

func TestDepthUpdateValidator_ValidateNext(t *testing.T) {
	v := DepthUpdateValidator{}

	tests := []struct {
		name        string
		first, last uint64
		lastApplied uint64
		valid       bool
	}{
		{"Contiguous", 104, 110, 103, true},
		{"SingleId", 104, 104, 103, true},
		{"Gap", 105, 110, 103, false},
		{"Overlap", 103, 110, 103, false},
		{"Duplicate", 100, 103, 103, false},
		{"InvertedRange", 104, 100, 103, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateNext(&OrderBookUpdate{FirstUpdateID: tt.first, FinalUpdateID: tt.last}, tt.lastApplied)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, v.IsErrOutOfSequence(err), "expected out of sequence, got %v", err)
				assert.False(t, v.IsErrOutdated(err))
			}
		})
	}
}
