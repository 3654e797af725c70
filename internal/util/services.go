package util

// ServiceID identifies a money service a swap can move between.
type ServiceID string

const (
	NationalBank ServiceID = "national_bank"
	StandardBank ServiceID = "standard_bank"
	FDHBank      ServiceID = "fdh_bank"
	TNMMpamba    ServiceID = "tnm_mpamba"
	AirtelMoney  ServiceID = "airtel_money"
)

var serviceNames = map[ServiceID]string{
	NationalBank: "National Bank (Mo626)",
	StandardBank: "Standard Bank",
	FDHBank:      "FDH Bank",
	TNMMpamba:    "TNM Mpamba",
	AirtelMoney:  "Airtel Money",
}

// walletPrefixes maps mobile wallets to their Malawi number prefixes.
var walletPrefixes = map[ServiceID][]string{
	TNMMpamba:   {"088", "089"},
	AirtelMoney: {"099", "098"},
}

func (s ServiceID) Valid() bool {
	_, ok := serviceNames[s]
	return ok
}

func (s ServiceID) IsBank() bool {
	switch s {
	case NationalBank, StandardBank, FDHBank:
		return true
	}
	return false
}

func (s ServiceID) IsMobileWallet() bool {
	switch s {
	case TNMMpamba, AirtelMoney:
		return true
	}
	return false
}

func (s ServiceID) DisplayName() string {
	if name, ok := serviceNames[s]; ok {
		return name
	}
	return string(s)
}

// ValidDestNumber checks a destination number against the wallet's
// known prefixes. Bank destinations are free-form account numbers.
func (s ServiceID) ValidDestNumber(number string) bool {
	prefixes, ok := walletPrefixes[s]
	if !ok {
		return number != ""
	}
	if len(number) < 10 {
		return false
	}
	for _, prefix := range prefixes {
		if number[:3] == prefix {
			return true
		}
	}
	return false
}
