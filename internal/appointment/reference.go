package appointment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReferenceFunc produces a booking reference for a booking made at now.
type ReferenceFunc func(now time.Time) (string, error)

// NewBookingReference returns APT-YYYYMMDD-XXXXXXXX with eight random
// uppercase alphanumerics.
func NewBookingReference(now time.Time) (string, error) {
	buf := make([]byte, 8)
	max := big.NewInt(int64(len(referenceAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate booking reference: %w", err)
		}
		buf[i] = referenceAlphabet[n.Int64()]
	}
	return "APT-" + now.UTC().Format("20060102") + "-" + string(buf), nil
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the wall clock in UTC.
var SystemClock Clock = systemClock{}
