package bridge

import (
	"github.com/Lorenzo-Protocol/lorenzo-bridge-bonder/finality"
)

type FinalityDefaults struct {
	Policy          finality.Policy
	Confirmations   uint64
	Tag             string
	InclusionSource string
}

type Chain struct {
	ID       uint64
	Name     string
	Domain   uint32
	Testnet  bool
	Finality FinalityDefaults
}

var (
	finalizedTag = FinalityDefaults{Policy: finality.PolicyTag, Tag: "finalized"}
	polygonFixed = FinalityDefaults{Policy: finality.PolicyFixed, Confirmations: 128}
)

var chainTable = []Chain{
	{ID: 1, Name: "ethereum", Domain: 0, Finality: finalizedTag},
	{ID: 10, Name: "optimism", Domain: 2, Finality: finalizedTag},
	{ID: 42161, Name: "arbitrum", Domain: 3, Finality: finalizedTag},
	{ID: 8453, Name: "base", Domain: 6, Finality: finalizedTag},
	{ID: 137, Name: "polygon", Domain: 7, Finality: polygonFixed},

	{ID: 11155111, Name: "sepolia", Domain: 0, Testnet: true, Finality: finalizedTag},
	{ID: 11155420, Name: "optimism-sepolia", Domain: 2, Testnet: true, Finality: finalizedTag},
	{ID: 421614, Name: "arbitrum-sepolia", Domain: 3, Testnet: true, Finality: finalizedTag},
	{ID: 84532, Name: "base-sepolia", Domain: 6, Testnet: true, Finality: finalizedTag},
	{ID: 80002, Name: "polygon-amoy", Domain: 7, Testnet: true, Finality: polygonFixed},
}

func ChainByID(chainID uint64) (Chain, bool) {
	for _, chain := range chainTable {
		if chain.ID == chainID {
			return chain, true
		}
	}
	return Chain{}, false
}

// ChainIDForDomain maps a CCTP domain to the chain id of the given network.
func ChainIDForDomain(testnet bool, domain uint32) (uint64, bool) {
	for _, chain := range chainTable {
		if chain.Testnet == testnet && chain.Domain == domain {
			return chain.ID, true
		}
	}
	return 0, false
}
