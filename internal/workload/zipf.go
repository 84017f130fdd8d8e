// Package workload generates synthetic lookup traces.
package workload

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
)

// Zipf draws trace keys from [0, keySpace) with Zipfian skew. Key "0" is the
// most popular. Draws are reproducible for a given seed.
type Zipf struct {
	rng      *rand.Rand
	keySpace int

	spread       float64
	zetaN        float64
	alpha        float64
	eta          float64
	halfPowTheta float64
}

// NewZipf prepares a generator. theta controls the skew and must lie in (0, 1).
func NewZipf(keySpace int, theta float64, seed uint64) (*Zipf, error) {
	if keySpace < 1 {
		return nil, fmt.Errorf("zipf key space must be at least 1, got %d", keySpace)
	}
	if theta <= 0 || theta >= 1 || math.IsNaN(theta) {
		return nil, fmt.Errorf("zipf theta must be in (0, 1), got %v", theta)
	}

	spread := keySpace + 1
	zeta2 := zeta(2, theta)
	zetaN := zeta(spread, theta)
	return &Zipf{
		rng:          rand.New(rand.NewPCG(seed, seed+1)), //nolint:gosec // reproducible workload, not security
		keySpace:     keySpace,
		spread:       float64(spread),
		zetaN:        zetaN,
		alpha:        1 / (1 - theta),
		eta:          (1 - math.Pow(2/float64(spread), 1-theta)) / (1 - zeta2/zetaN),
		halfPowTheta: 1 + math.Pow(0.5, theta),
	}, nil
}

// Int draws the next key index.
func (z *Zipf) Int() int {
	u := z.rng.Float64()
	uz := u * z.zetaN
	switch {
	case uz < 1:
		return 0
	case uz < z.halfPowTheta:
		return 1
	}
	return min(int(z.spread*math.Pow(z.eta*u-z.eta+1, z.alpha)), z.keySpace-1)
}

// Key draws the next trace key.
func (z *Zipf) Key() string {
	return strconv.Itoa(z.Int())
}

// Keys draws n trace keys.
func Keys(n, keySpace int, theta float64, seed uint64) ([]string, error) {
	z, err := NewZipf(keySpace, theta, seed)
	if err != nil {
		return nil, err
	}
	keys := make([]string, n)
	for i := range keys {
		keys[i] = z.Key()
	}
	return keys, nil
}

func zeta(n int, theta float64) float64 {
	sum := 0.0
	for i := 1; i <= n; i++ {
		sum += 1 / math.Pow(float64(i), theta)
	}
	return sum
}
