package audit

import (
	"fmt"

	"github.com/bpi-sushrut/bpinode/internal/apperrors"
	"github.com/bpi-sushrut/bpinode/pkg/pqcrypto"
)

// Verify recomputes hashes and signatures for events[start:end) against
// verifyKey, returning ChainBroken{index} (as an *apperrors.Error of kind
// KindChainBroken) on the first mismatch. start=0, end=len(events) checks
// the full chain.
func Verify(events []Event, verifyKey pqcrypto.PublicKey, start, end int) error {
	if start < 0 || end > len(events) || start > end {
		return apperrors.New(apperrors.KindInvalidConfig, "verify range out of bounds")
	}

	var prev [32]byte
	if start > 0 {
		prev = hashEvent(events[start-1])
	}

	for i := start; i < end; i++ {
		e := events[i]

		if e.PrevHash != prev {
			return chainBroken(i, "prev_hash mismatch")
		}

		ok, err := pqcrypto.Verify(verifyKey, e.canonicalEncoding(), e.Signature)
		if err != nil {
			return apperrors.Wrap(apperrors.KindChainBroken, err)
		}
		if !ok {
			return chainBroken(i, "signature verification failed")
		}

		prev = hashEvent(e)
	}

	return nil
}

func chainBroken(index int, reason string) error {
	return apperrors.New(apperrors.KindChainBroken, fmt.Sprintf("index %d: %s", index, reason)).
		WithDetails(map[string]any{"index": index})
}
