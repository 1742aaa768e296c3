package common

// Authority is an explicit set of addresses allowed to drive a privileged
// operation. It is held in engine configuration and checked per call.
type Authority struct {
	Addresses [][20]byte
}

// NewAuthority returns an authority over the supplied addresses, skipping the
// zero address and duplicates.
func NewAuthority(addrs ...[20]byte) Authority {
	out := Authority{}
	for _, addr := range addrs {
		if addr == ([20]byte{}) || out.Allows(addr) {
			continue
		}
		out.Addresses = append(out.Addresses, addr)
	}
	return out
}

// Allows reports whether caller is one of the authority's addresses.
func (a Authority) Allows(caller [20]byte) bool {
	if caller == ([20]byte{}) {
		return false
	}
	for _, addr := range a.Addresses {
		if addr == caller {
			return true
		}
	}
	return false
}

// Empty reports whether no address is authorised.
func (a Authority) Empty() bool { return len(a.Addresses) == 0 }

// Clone returns a deep copy of the authority.
func (a Authority) Clone() Authority {
	return Authority{Addresses: append([][20]byte(nil), a.Addresses...)}
}
