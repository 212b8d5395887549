package discovery

import "fmt"

// scanSpan is one inclusive block interval covered by a single getLogs
// call during an event scan.
type scanSpan struct {
	from uint64
	to   uint64
}

// splitScanSpan cuts [from, to] into spans of at most size blocks each.
func splitScanSpan(from, to, size uint64) ([]scanSpan, error) {
	if size == 0 {
		return nil, fmt.Errorf("scan span size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("scan span end %d precedes start %d", to, from)
	}

	spans := make([]scanSpan, 0, (to-from)/size+1)
	for lo := from; ; {
		hi := lo + size - 1
		if hi > to || hi < lo {
			hi = to
		}
		spans = append(spans, scanSpan{from: lo, to: hi})
		if hi == to {
			return spans, nil
		}
		lo = hi + 1
	}
}
