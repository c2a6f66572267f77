package registry

import "strings"

// DLN deploys its EVM contracts at the same address on every supported chain.
const (
	DLNSourceAddress           = "0xeF4fB24aD0916217251F553c0596F8Edc630EB66"
	DLNDestinationAddress      = "0xE7351Fd770A37282b91D153Ee690B63579D6dd7f"
	CrosschainForwarderAddress = "0x663DC15D3C1aC63ff12E45Ab68FeA3F0a883C251"
)

var knownSpenders = []string{DLNSourceAddress, CrosschainForwarderAddress}

// IsKnownSpender reports whether address is a DLN contract that may receive a
// token allowance for order creation.
func IsKnownSpender(address string) bool {
	address = strings.TrimSpace(address)
	for _, known := range knownSpenders {
		if strings.EqualFold(known, address) {
			return true
		}
	}
	return false
}
