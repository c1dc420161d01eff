package svm

// Rent parameters. These match the Solana defaults.
const (
	// DefaultLamportsPerByteYear is the rent rate charged per byte per year.
	DefaultLamportsPerByteYear = uint64(3480)

	// DefaultExemptionThreshold is the number of years of rent an account must
	// hold to be exempt.
	DefaultExemptionThreshold = 2.0

	// AccountStorageOverhead is the per-account metadata size charged on top of data.
	AccountStorageOverhead = uint64(128)
)

// Rent describes the rent model used to compute rent-exemption minimums.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionThreshold  float64
}

// DefaultRent returns the default rent model.
func DefaultRent() Rent {
	return Rent{
		LamportsPerByteYear: DefaultLamportsPerByteYear,
		ExemptionThreshold:  DefaultExemptionThreshold,
	}
}

// MinimumBalance returns the minimum lamports an account with dataLen bytes of
// data must hold to be rent exempt.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	bytes := AccountStorageOverhead + dataLen
	return uint64(float64(bytes*r.LamportsPerByteYear) * r.ExemptionThreshold)
}
