package subscription

import "math/big"

// canonicalDecimals is the fixed precision reward math runs in. Normalizing
// payment amounts to this base keeps reward issuance insensitive to the
// payment token's native precision.
const canonicalDecimals = 18

// scale converts amounts from a token's native precision to the canonical
// 18-digit base. It is computed once from the payment ledger's decimals and
// cached on the engine.
type scale struct {
	mul *big.Int
	div *big.Int
}

func newScale(decimals uint8) scale {
	if decimals <= canonicalDecimals {
		exp := big.NewInt(int64(canonicalDecimals - decimals))
		return scale{mul: new(big.Int).Exp(big.NewInt(10), exp, nil)}
	}
	exp := big.NewInt(int64(decimals - canonicalDecimals))
	return scale{div: new(big.Int).Exp(big.NewInt(10), exp, nil)}
}

// Normalize converts a native-precision amount to the canonical base.
func (s scale) Normalize(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	normalized := new(big.Int).Set(amount)
	if s.mul != nil {
		normalized.Mul(normalized, s.mul)
	}
	if s.div != nil {
		normalized.Quo(normalized, s.div)
	}
	return normalized
}
