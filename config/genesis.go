package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
)

// GenesisHash is a canonical all-zeros previous hash for the genesis block.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Genesis describes the chain's initial state.
type Genesis struct {
	ChainID        string                       `yaml:"chainId"`
	Sequencer      string                       `yaml:"sequencer"` // block producer pubkey hex
	Admin          string                       `yaml:"admin"`     // settlement admin pubkey hex
	DisputeWindow  int64                        `yaml:"disputeWindow"`
	Alloc          map[string]uint64            `yaml:"alloc"`      // pubkey hex → native balance
	TokenAlloc     map[string]map[string]uint64 `yaml:"tokenAlloc"` // contract → pubkey hex → balance
	TrustedServers []GenesisServer              `yaml:"trustedServers"`
	GameModules    []GenesisGameModule          `yaml:"gameModules"`
	Relays         []string                     `yaml:"relays"`
}

// GenesisServer is a result attestor trusted from block zero.
type GenesisServer struct {
	PublicKey string `yaml:"publicKey"` // compressed secp256k1 hex
	Name      string `yaml:"name"`
}

// GenesisGameModule is a game module registered from block zero.
type GenesisGameModule struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	OwnerContract string `yaml:"ownerContract"`
	MinScore      uint64 `yaml:"minScore"`
	MaxScore      uint64 `yaml:"maxScore"`
}

// LoadGenesis reads and validates a YAML genesis document.
func LoadGenesis(path string) (*Genesis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var g Genesis
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &g, nil
}

// Validate checks keys and ranges. A zero DisputeWindow is replaced by the
// default.
func (g *Genesis) Validate() error {
	if strings.TrimSpace(g.ChainID) == "" {
		return errors.New("chainId required")
	}
	if _, err := crypto.PubKeyFromHex(g.Sequencer); err != nil {
		return fmt.Errorf("sequencer: %w", err)
	}
	if _, err := crypto.PubKeyFromHex(g.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if g.DisputeWindow < 0 {
		return fmt.Errorf("disputeWindow must be >= 0, got %d", g.DisputeWindow)
	}
	if g.DisputeWindow == 0 {
		g.DisputeWindow = core.DefaultDisputeWindow
	}
	for addr := range g.Alloc {
		if _, err := crypto.PubKeyFromHex(addr); err != nil {
			return fmt.Errorf("alloc %s: %w", addr, err)
		}
	}
	for contract, holders := range g.TokenAlloc {
		if contract == "" {
			return errors.New("tokenAlloc: empty contract")
		}
		for addr := range holders {
			if _, err := crypto.PubKeyFromHex(addr); err != nil {
				return fmt.Errorf("tokenAlloc %s/%s: %w", contract, addr, err)
			}
		}
	}
	for _, s := range g.TrustedServers {
		if _, err := crypto.CompressedPubKeyFromHex(s.PublicKey); err != nil {
			return fmt.Errorf("trusted server %q: %w", s.Name, err)
		}
	}
	seen := make(map[string]bool)
	for _, m := range g.GameModules {
		if m.ID == "" || seen[m.ID] {
			return fmt.Errorf("game module id %q empty or duplicated", m.ID)
		}
		if m.MinScore > m.MaxScore {
			return fmt.Errorf("game module %s: minScore > maxScore", m.ID)
		}
		seen[m.ID] = true
	}
	for _, r := range g.Relays {
		if _, err := crypto.PubKeyFromHex(r); err != nil {
			return fmt.Errorf("relay %s: %w", r, err)
		}
	}
	return nil
}

// CreateGenesisBlock seeds state from g, commits it, and builds and signs
// block #0.
func CreateGenesisBlock(g *Genesis, state core.State, proposerPriv crypto.PrivateKey) (*core.Block, error) {
	proposerPub := proposerPriv.Public()
	if proposerPub.Hex() != g.Sequencer {
		return nil, fmt.Errorf("key %s is not the genesis sequencer", proposerPub.Hex())
	}

	if err := state.SetParams(&core.Params{Admin: g.Admin, DisputeWindow: g.DisputeWindow}); err != nil {
		return nil, err
	}
	for pubkeyHex, balance := range g.Alloc {
		if err := state.SetAccount(&core.Account{Address: pubkeyHex, Balance: balance}); err != nil {
			return nil, err
		}
	}
	for contract, holders := range g.TokenAlloc {
		for addr, amount := range holders {
			if err := state.SetTokenBalance(contract, addr, amount); err != nil {
				return nil, err
			}
		}
	}
	for _, s := range g.TrustedServers {
		pub, _ := crypto.CompressedPubKeyFromHex(s.PublicKey)
		if err := state.SetTrustedServer(&core.TrustedServer{PublicKey: pub.Hex(), Enabled: true, Name: s.Name}); err != nil {
			return nil, err
		}
	}
	for _, m := range g.GameModules {
		err := state.SetGameModule(&core.GameModule{
			ID:            m.ID,
			Name:          m.Name,
			OwnerContract: m.OwnerContract,
			MinScore:      m.MinScore,
			MaxScore:      m.MaxScore,
			Enabled:       true,
		})
		if err != nil {
			return nil, err
		}
	}
	for _, r := range g.Relays {
		if err := state.SetRelay(&core.Relay{Address: r, Enabled: true}); err != nil {
			return nil, err
		}
	}

	stateRoot := state.ComputeRoot()
	if err := state.Commit(); err != nil {
		return nil, err
	}

	block := core.NewBlock(0, GenesisHash, proposerPub.Hex(), nil)
	block.Header.StateRoot = stateRoot
	// The chain ID is bound into block zero through TxRoot.
	block.Header.TxRoot = crypto.Hash([]byte(g.ChainID))
	block.Sign(proposerPriv)
	return block, nil
}

// CheckGenesis reports whether block is the block zero g would produce, so a
// restarted node cannot run against a different genesis document.
func CheckGenesis(g *Genesis, block *core.Block) error {
	if block.Header.Height != 0 || !IsGenesisHash(block.Header.PrevHash) {
		return fmt.Errorf("block %s is not a genesis block", block.Hash)
	}
	if block.Header.TxRoot != crypto.Hash([]byte(g.ChainID)) {
		return fmt.Errorf("stored chain was not created for chain id %q", g.ChainID)
	}
	if block.Header.Proposer != g.Sequencer {
		return fmt.Errorf("stored genesis proposer %s differs from sequencer %s", block.Header.Proposer, g.Sequencer)
	}
	return nil
}

// IsGenesisHash returns true if the hash is the canonical genesis prev-hash.
func IsGenesisHash(h string) bool {
	return strings.Count(h, "0") == len(h) && len(h) == 64
}
