package explorer

import "strings"

// Explorer is an Etherscan-compatible explorer for one chain
type Explorer struct {
	ChainID    int64
	Network    string
	APIURL     string
	BrowserURL string
}

// AddressURL returns the explorer page for address
func (e Explorer) AddressURL(address string) string {
	return strings.TrimSuffix(e.BrowserURL, "/") + "/address/" + address + "#code"
}

// etherscanV2 is the multichain Etherscan API; the chain is selected with
// the chainid parameter
const etherscanV2 = "https://api.etherscan.io/v2/api"

// builtinExplorers are the Etherscan-family explorers known without config
var builtinExplorers = []Explorer{
	{ChainID: 1, Network: "mainnet", APIURL: etherscanV2, BrowserURL: "https://etherscan.io"},
	{ChainID: 11155111, Network: "sepolia", APIURL: etherscanV2, BrowserURL: "https://sepolia.etherscan.io"},
	{ChainID: 137, Network: "polygon", APIURL: etherscanV2, BrowserURL: "https://polygonscan.com"},
	{ChainID: 80001, Network: "polygonMumbai", APIURL: etherscanV2, BrowserURL: "https://mumbai.polygonscan.com"},
	{ChainID: 80002, Network: "polygonAmoy", APIURL: etherscanV2, BrowserURL: "https://amoy.polygonscan.com"},
	{ChainID: 59144, Network: "linea", APIURL: etherscanV2, BrowserURL: "https://lineascan.build"},
	{ChainID: 59140, Network: "lineaGoerli", APIURL: etherscanV2, BrowserURL: "https://goerli.lineascan.build"},
	{ChainID: 59141, Network: "lineaSepolia", APIURL: etherscanV2, BrowserURL: "https://sepolia.lineascan.build"},
}

// Builtin returns a copy of the built-in explorer table
func Builtin() []Explorer {
	out := make([]Explorer, len(builtinExplorers))
	copy(out, builtinExplorers)
	return out
}

// Lookup finds the explorer for chainID. Entries in custom take precedence
// over the built-in table.
func Lookup(chainID int64, custom []Explorer) (Explorer, bool) {
	for _, e := range custom {
		if e.ChainID == chainID {
			return e, true
		}
	}
	for _, e := range builtinExplorers {
		if e.ChainID == chainID {
			return e, true
		}
	}
	return Explorer{}, false
}
