package domain

import "errors"

var (
	// The diff is entirely covered by the book already.
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
	// The diff does not continue the book; the book has to be resynchronized.
	ErrOrderBookUpdateIsOutOfSequence = errors.New("order book update is out of sequence")
)

// DepthUpdateValidator implements the Binance depth-diff continuity rules.
type DepthUpdateValidator struct{}

// ValidateFirst checks the first diff applied on top of a snapshot:
// U <= lastUpdateId+1 AND u >= lastUpdateId+1.
func (DepthUpdateValidator) ValidateFirst(update *OrderBookUpdate, lastUpdateID uint64) error {
	if update.FinalUpdateID <= lastUpdateID {
		return ErrOrderBookUpdateIsOutdated
	}
	if update.FirstUpdateID <= lastUpdateID+1 {
		return nil
	}
	return ErrOrderBookUpdateIsOutOfSequence
}

// ValidateNext checks a diff following an applied one: U == previous u + 1.
func (DepthUpdateValidator) ValidateNext(update *OrderBookUpdate, lastUpdateID uint64) error {
	if update.FirstUpdateID == lastUpdateID+1 && update.FinalUpdateID >= update.FirstUpdateID {
		return nil
	}
	return ErrOrderBookUpdateIsOutOfSequence
}

func (DepthUpdateValidator) IsErrOutOfSequence(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutOfSequence)
}

func (DepthUpdateValidator) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutdated)
}
