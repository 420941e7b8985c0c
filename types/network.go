package types

// Network identifies a supported chain by name.
type Network string

const (
	NetworkCronos        Network = "cronos"
	NetworkCronosTestnet Network = "cronos-testnet"
	NetworkBase          Network = "base"
	NetworkBaseSepolia   Network = "base-sepolia"
)

var chainIDs = map[Network]int64{
	NetworkCronos:        25,
	NetworkCronosTestnet: 338,
	NetworkBase:          8453,
	NetworkBaseSepolia:   84532,
}

// ChainID returns the chain id for the network, or 0 if unknown.
func (n Network) ChainID() int64 {
	return chainIDs[n]
}

// Known reports whether the network is in the supported table.
func (n Network) Known() bool {
	_, ok := chainIDs[n]
	return ok
}

func (n Network) IsTestnet() bool {
	return n == NetworkCronosTestnet || n == NetworkBaseSepolia
}

func (n Network) String() string {
	return string(n)
}

// NetworkForChainID resolves a chain id back to its network name. Unknown
// ids map to the empty Network.
func NetworkForChainID(chainID int64) Network {
	for n, id := range chainIDs {
		if id == chainID {
			return n
		}
	}
	return Network("")
}

// SupportedNetworks lists every network the table knows, for the
// facilitator supported-kinds response.
func SupportedNetworks() []Network {
	return []Network{NetworkCronos, NetworkCronosTestnet, NetworkBase, NetworkBaseSepolia}
}
