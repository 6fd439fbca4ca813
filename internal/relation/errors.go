package relation

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned by First, Last and Find when no record
// matches.
var ErrRecordNotFound = errors.New("record not found")

func errGroupedRowWidth(got, want int) error {
	return fmt.Errorf("grouped row has %d values, want %d", got, want)
}
