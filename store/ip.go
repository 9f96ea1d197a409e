package store

import "net/netip"

// PackIP converts a textual address to its 4 or 16 byte form. Unparseable or
// empty input yields nil, which is stored as NULL.
func PackIP(ip string) []byte {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return b[:]
	}
	b := addr.As16()
	return b[:]
}

// UnpackIP reverses [PackIP]. Input that is neither 4 nor 16 bytes yields "".
func UnpackIP(b []byte) string {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return ""
	}
	return addr.String()
}

// ipArg is PackIP as a query argument, with an untyped nil for NULL.
func ipArg(ip string) any {
	if b := PackIP(ip); b != nil {
		return b
	}
	return nil
}
