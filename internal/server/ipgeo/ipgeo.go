// Package ipgeo resolves client addresses to country codes using a MaxMind
// MMDB file.
package ipgeo

import (
	"net/netip"

	"github.com/oschwald/maxminddb-golang/v2"
)

// Locator resolves IP addresses to ISO 3166-1 alpha-2 country codes. A nil
// *Locator only classifies local addresses.
type Locator struct {
	reader *maxminddb.Reader
}

// Open opens an MMDB file.
func Open(path string) (*Locator, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &Locator{reader: r}, nil
}

// Close releases the MMDB file.
func (l *Locator) Close() error {
	if l == nil {
		return nil
	}
	return l.reader.Close()
}

type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// cgnat is the shared address space 100.64.0.0/10, used by Tailscale among
// others.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// CountryCode returns the country code of ip.
//
// It returns "local" for loopback, private, link-local and unspecified
// addresses, "cgnat" for the shared address space and "" when unknown.
func (l *Locator) CountryCode(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return "local"
	}
	if cgnat.Contains(addr) {
		return "cgnat"
	}
	if l == nil {
		return ""
	}
	var rec countryRecord
	if err := l.reader.Lookup(addr).Decode(&rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}
