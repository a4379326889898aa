package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolsettle/attest"
	"github.com/tolelom/tolsettle/config"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/crypto"
	"github.com/tolelom/tolsettle/internal/testutil"
)

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := write(t, "node.toml", `
NodeID = "seq-1"
DataDir = "/var/lib/tolsettle"
BlockInterval = "500ms"

[RPC]
Listen = "0.0.0.0:9000"
AuthToken = "t"

[Log]
Level = "debug"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "seq-1", cfg.NodeID)
	require.Equal(t, "0.0.0.0:9000", cfg.RPC.Listen)
	require.Equal(t, 40, cfg.RPC.Burst, "unset keys keep defaults")
	d, err := cfg.Interval()
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, d)

	// Round trip through Save.
	out := filepath.Join(t.TempDir(), "saved.toml")
	require.NoError(t, config.Save(cfg, out))
	again, err := config.Load(out)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadConfigRejects(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":   "Bogus = 1\n",
		"bad interval":  "BlockInterval = \"soon\"\n",
		"zero interval": "BlockInterval = \"0s\"\n",
		"burst":         "[RPC]\nRateLimit = 5.0\nBurst = 0\n",
		"syntax":        "NodeID = \n",
	} {
		_, err := config.Load(write(t, "node.toml", body))
		require.Error(t, err, name)
	}
}

type keys struct {
	sequencer crypto.PrivateKey
	admin     string
	attestor  *attest.Signer
}

func genesisYAML(t *testing.T) (string, keys) {
	t.Helper()
	seq, seqPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, adminPub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	signer, err := attest.GenerateSigner()
	require.NoError(t, err)

	doc := strings.NewReplacer("SEQ", seqPub.Hex(), "ADMIN", adminPub.Hex(), "SRV", signer.PublicKey().Hex()).Replace(`
chainId: tolsettle-dev
sequencer: SEQ
admin: ADMIN
alloc:
  ADMIN: 1000000
tokenAlloc:
  gold:
    ADMIN: 500
trustedServers:
  - publicKey: SRV
    name: eu-1
gameModules:
  - id: arena
    name: Arena
    minScore: 0
    maxScore: 10000
relays:
  - ADMIN
`)
	return doc, keys{sequencer: seq, admin: adminPub.Hex(), attestor: signer}
}

func TestGenesis(t *testing.T) {
	doc, k := genesisYAML(t)
	g, err := config.LoadGenesis(write(t, "genesis.yaml", doc))
	require.NoError(t, err)
	require.Equal(t, core.DefaultDisputeWindow, g.DisputeWindow)

	state := testutil.NewStateDB()
	block, err := config.CreateGenesisBlock(g, state, k.sequencer)
	require.NoError(t, err)
	require.Equal(t, int64(0), block.Header.Height)
	require.True(t, config.IsGenesisHash(block.Header.PrevHash))
	require.Equal(t, state.ComputeRoot(), block.Header.StateRoot)
	require.NoError(t, block.Verify(k.sequencer.Public()))

	params, err := state.GetParams()
	require.NoError(t, err)
	require.Equal(t, k.admin, params.Admin)
	acc, err := state.GetAccount(k.admin)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), acc.Balance)
	gold, err := state.GetTokenBalance("gold", k.admin)
	require.NoError(t, err)
	require.Equal(t, uint64(500), gold)
	srv, err := state.GetTrustedServer(k.attestor.PublicKey().Hex())
	require.NoError(t, err)
	require.True(t, srv.Enabled)
	mod, err := state.GetGameModule("arena")
	require.NoError(t, err)
	require.True(t, mod.Enabled)
	relay, err := state.GetRelay(k.admin)
	require.NoError(t, err)
	require.True(t, relay.Enabled)

	require.NoError(t, config.CheckGenesis(g, block))
	forked := *g
	forked.ChainID = "tolsettle-fork"
	require.Error(t, config.CheckGenesis(&forked, block))

	other, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, err = config.CreateGenesisBlock(g, testutil.NewStateDB(), other)
	require.Error(t, err, "only the sequencer may sign block zero")
}

func TestGenesisRejects(t *testing.T) {
	doc, _ := genesisYAML(t)
	for name, mutate := range map[string]func(string) string{
		"unknown field":   func(s string) string { return s + "extra: 1\n" },
		"negative window": func(s string) string { return s + "disputeWindow: -1\n" },
		"no chain id":     func(s string) string { return strings.Replace(s, "chainId: tolsettle-dev", "chainId: \"\"", 1) },
		"bad range":       func(s string) string { return strings.Replace(s, "minScore: 0", "minScore: 20000", 1) },
	} {
		_, err := config.LoadGenesis(write(t, "genesis.yaml", mutate(doc)))
		require.Error(t, err, name)
	}
}
