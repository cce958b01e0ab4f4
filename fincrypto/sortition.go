package fincrypto

import (
	"math/big"

	"gonum.org/v1/gonum/stat/distuv"
)

// maxVRFOutputHex is the maximum value representable by a 32-byte VRF
// output, used to turn the output into a uniform ratio in [0,1].
const maxVRFOutputHex = "0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"

// DeriveWeight computes the number of votes a voter is selected for in
// one step, given its stake, the total weight of all voters, the
// configured expected selection size and the VRF output produced for
// this step.
//
// The derivation is a Bernoulli-style sortition: the voter's stake is
// treated as `stake` independent draws, each selected with probability
// `expectedSize/totalWeight`; the VRF output, read as a uniform ratio,
// picks a point on the binomial CDF and the derived weight is the number
// of draws at or below that point. The computation is a deterministic,
// pure function of its inputs so all nodes agree.
func DeriveWeight(stake, totalWeight uint64, expectedSize float64, vrfOutput []byte) uint64 {
	if stake == 0 || totalWeight == 0 || expectedSize <= 0 {
		return 0
	}

	n := float64(stake)
	p := expectedSize / float64(totalWeight)

	ratio := ratioFromOutput(vrfOutput)
	return binomialCDFWalk(n, p, ratio, stake)
}

// ratioFromOutput interprets vrfOutput as a big-endian unsigned integer
// and returns its value divided by the maximum 32-byte value
// (maxVRFOutputHex), whatever the buffer's length. For outputs of at
// most 32 bytes the result is a float64 in [0,1].
func ratioFromOutput(vrfOutput []byte) float64 {
	t := new(big.Int).SetBytes(vrfOutput)

	precision := uint(8 * (len(vrfOutput) + 1))
	max, _, err := big.ParseFloat(maxVRFOutputHex, 0, precision, big.ToNearestEven)
	if err != nil {
		panic("fincrypto: failed to parse sortition maximum constant")
	}

	h := new(big.Float).SetPrec(precision)
	h.SetInt(t)

	ratio := new(big.Float)
	cratio, _ := ratio.Quo(h, max).Float64()
	return cratio
}

// binomialCDFWalk walks the CDF of Binomial(n, p) from 0 up to stake,
// returning the first j whose cumulative probability is at least ratio.
func binomialCDFWalk(n, p, ratio float64, stake uint64) uint64 {
	dist := distuv.Binomial{N: n, P: p}

	for j := uint64(0); j < stake; j++ {
		if ratio <= dist.CDF(float64(j)) {
			return j
		}
	}
	return stake
}
