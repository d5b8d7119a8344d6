package usecase

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"time"
)

const (
	DefaultTrackingPrefix = "PED"
	trackingSuffixLen     = 4
	base36                = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var trackingRe = regexp.MustCompile(`^[A-Z]{2,8}-[0-9]{8}[0-9a-z]{4}$`)

type CodeGenerator interface {
	Generate() string
}

// TrackingCodes builds codes like PED-<8 time digits><4 base36 chars>.
// Uniqueness is ultimately enforced by the orders.tracking_code index.
type TrackingCodes struct {
	Prefix string
	Now    func() time.Time
	Rand   io.Reader
}

func NewTrackingCodes(prefix string) TrackingCodes {
	if prefix == "" {
		prefix = DefaultTrackingPrefix
	}
	return TrackingCodes{Prefix: prefix, Now: time.Now, Rand: rand.Reader}
}

func (g TrackingCodes) Generate() string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	src := g.Rand
	if src == nil {
		src = rand.Reader
	}
	millis := now().UnixMilli() % 100_000_000
	return fmt.Sprintf("%s-%08d%s", g.Prefix, millis, randomBase36(src, trackingSuffixLen))
}

func randomBase36(src io.Reader, n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(src, max)
		if err != nil {
			// crypto/rand does not fail on supported platforms; fall back to the clock
			v = big.NewInt(time.Now().UnixNano() % int64(len(base36)))
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}

// ValidTrackingCode checks the shape produced by TrackingCodes.
func ValidTrackingCode(code string) bool {
	return trackingRe.MatchString(code)
}
