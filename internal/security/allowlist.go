package security

import (
	"errors"
	"net/netip"

	"github.com/dunamismax/cutout/internal/requestip"
)

var ErrIPNotAllowed = errors.New("access denied: unauthorized IP")

// AllowList restricts access to configured addresses and CIDR ranges.
// An empty list allows everyone.
type AllowList struct {
	prefixes []netip.Prefix
}

func NewAllowList(entries []string) (*AllowList, error) {
	prefixes, err := requestip.ParsePrefixes(entries)
	if err != nil {
		return nil, err
	}
	return &AllowList{prefixes: prefixes}, nil
}

func (a *AllowList) Enabled() bool {
	return a != nil && len(a.prefixes) > 0
}

func (a *AllowList) Check(ip string) error {
	if !a.Enabled() {
		return nil
	}
	addr, ok := requestip.ParseAddr(ip)
	if !ok || !requestip.Contains(a.prefixes, addr) {
		return ErrIPNotAllowed
	}
	return nil
}

func (a *AllowList) Entries() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.prefixes))
	for _, p := range a.prefixes {
		out = append(out, p.String())
	}
	return out
}
