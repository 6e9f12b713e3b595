package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

const rewardDecimals = 6

// FormatEther renders a minor-unit amount in whole units with at most six
// decimals, trailing zeros trimmed.
func FormatEther(wei *big.Int) string {
	if wei == nil || wei.Sign() == 0 {
		return "0"
	}
	f := new(big.Float).SetPrec(256).SetInt(wei)
	f.Quo(f, new(big.Float).SetPrec(256).SetInt64(params.Ether))
	if f.Cmp(big.NewFloat(0.000001)) < 0 && wei.Sign() > 0 {
		return f.Text('e', 2)
	}
	s := f.Text('f', rewardDecimals)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// ParseEther converts a decimal whole-unit amount such as "0.25" to minor units.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, InvalidInputf("empty amount")
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 18 {
		return nil, InvalidInputf("amount %q has more than 18 decimals", s)
	}
	frac += strings.Repeat("0", 18-len(frac))
	v, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok || v.Sign() < 0 {
		return nil, InvalidInputf("amount %q is not a non-negative decimal", s)
	}
	return v, nil
}

// ParseAddress validates and parses a hex address.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, InvalidInputf("address %q", s)
	}
	return common.HexToAddress(s), nil
}

// NormalizeProofURL turns a proof reference into something a browser can
// open: references without a scheme are prefixed with https://.
func NormalizeProofURL(proof string) string {
	proof = strings.TrimSpace(proof)
	if proof == "" || strings.Contains(proof, "://") {
		return proof
	}
	return "https://" + proof
}

// DeadlineLabel renders "Expired" or the time left until the deadline.
func DeadlineLabel(deadline, now time.Time) string {
	if now.After(deadline) {
		return "Expired"
	}
	left := deadline.Sub(now).Round(time.Minute)
	switch {
	case left >= 48*time.Hour:
		return fmt.Sprintf("in %d days", int(left.Hours())/24)
	case left >= time.Hour:
		return fmt.Sprintf("in %d hours", int(left.Hours()))
	case left >= time.Minute:
		return fmt.Sprintf("in %d minutes", int(left.Minutes()))
	default:
		return "in a few seconds"
	}
}
