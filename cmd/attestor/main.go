// Command attestor is the game-server side of settlement: it manages the
// secp256k1 attestation key, signs match results and relays them to a node.
//
//	attestor genkey -key attestor.key
//	attestor sign   -key attestor.key -result match.yaml [-rpc URL]
//	attestor submit -key attestor.key -result match.yaml -account relay.key -rpc URL
//
// Keystore passwords are read from TOLSETTLE_PASSWORD or prompted for.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/tolelom/tolsettle/attest"
	"github.com/tolelom/tolsettle/core"
	"github.com/tolelom/tolsettle/internal/logging"
	"github.com/tolelom/tolsettle/internal/passphrase"
	"github.com/tolelom/tolsettle/relay"
	"github.com/tolelom/tolsettle/rpc"
	"github.com/tolelom/tolsettle/wallet"
)

// resultFile is the match outcome as written by the game server. JSON input
// parses too.
type resultFile struct {
	SessionID uint64  `yaml:"sessionId"`
	Player    string  `yaml:"player"`
	GameID    string  `yaml:"gameId"`
	Score     uint64  `yaml:"score"`
	ExpGained uint64  `yaml:"expGained"`
	Kills     *uint64 `yaml:"kills"`
	Timestamp int64   `yaml:"timestamp"`
	Metadata  string  `yaml:"metadata"` // hex
}

var password = passphrase.NewSource(passphrase.EnvVar, "Keystore password: ")

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	if _, _, err := logging.Setup(logging.Options{Service: "tolsettle-attestor", Level: os.Getenv("TOLSETTLE_LOG_LEVEL")}); err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "genkey":
		err = genKey(os.Args[2:])
	case "sign":
		err = sign(ctx, os.Args[2:])
	case "submit":
		err = submit(ctx, os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: attestor genkey|sign|submit [flags]")
	os.Exit(2)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "attestor:", err)
	os.Exit(1)
}

func genKey(args []string) error {
	fs := flag.NewFlagSet("genkey", flag.ExitOnError)
	keyPath := fs.String("key", "attestor.key", "keystore output path")
	_ = fs.Parse(args)

	s, err := attest.GenerateSigner()
	if err != nil {
		return err
	}
	pw, err := password.Get()
	if err != nil {
		return err
	}
	if err := wallet.SaveSigner(*keyPath, pw, s); err != nil {
		return err
	}
	fmt.Printf("Generated attestor key. Public key (register as trusted server): %s\n", s.PublicKey().Hex())
	fmt.Printf("Saved to: %s\n", *keyPath)
	return nil
}

type signFlags struct {
	keyPath    *string
	resultPath *string
	rpcURL     *string
	rpcToken   *string
}

func addSignFlags(fs *flag.FlagSet) signFlags {
	return signFlags{
		keyPath:    fs.String("key", "attestor.key", "attestor keystore"),
		resultPath: fs.String("result", "", "match result file (YAML or JSON)"),
		rpcURL:     fs.String("rpc", "", "node JSON-RPC URL, used to fill player and game from the session"),
		rpcToken:   fs.String("rpc-token", os.Getenv("TOLSETTLE_RPC_TOKEN"), "node bearer token"),
	}
}

// payload loads the result and signs it into a report_result payload.
func (f signFlags) payload(ctx context.Context, client *rpc.Client) (core.ReportResultPayload, error) {
	if *f.resultPath == "" {
		return core.ReportResultPayload{}, errors.New("-result required")
	}
	r, err := readResult(*f.resultPath)
	if err != nil {
		return core.ReportResultPayload{}, err
	}
	if client != nil {
		sess, err := client.GetSession(ctx, r.SessionID)
		if err != nil {
			return core.ReportResultPayload{}, fmt.Errorf("get session: %w", err)
		}
		if sess == nil {
			return core.ReportResultPayload{}, fmt.Errorf("session %d: %w", r.SessionID, core.ErrSessionNotFound)
		}
		if sess.Status != core.SessionOpen {
			return core.ReportResultPayload{}, fmt.Errorf("session %d is %s: %w", r.SessionID, sess.Status, core.ErrSessionClosed)
		}
		r.Player, r.GameID = sess.Player, sess.GameModuleID
	}
	pw, err := password.Get()
	if err != nil {
		return core.ReportResultPayload{}, err
	}
	signer, err := wallet.LoadSigner(*f.keyPath, pw)
	if err != nil {
		return core.ReportResultPayload{}, err
	}
	a, err := signer.Sign(r)
	if err != nil {
		return core.ReportResultPayload{}, err
	}
	return attest.Payload(r, a), nil
}

func sign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	f := addSignFlags(fs)
	_ = fs.Parse(args)

	var client *rpc.Client
	if *f.rpcURL != "" {
		client = rpc.NewClient(*f.rpcURL, *f.rpcToken)
	}
	p, err := f.payload(ctx, client)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func submit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	f := addSignFlags(fs)
	accountPath := fs.String("account", "relay.key", "ed25519 keystore of the submitting account (player or relay)")
	chainID := fs.String("chain-id", "", "chain id of the target network")
	fee := fs.Uint64("fee", 0, "transaction fee")
	_ = fs.Parse(args)

	if *f.rpcURL == "" || *chainID == "" {
		return errors.New("-rpc and -chain-id required")
	}
	client := rpc.NewClient(*f.rpcURL, *f.rpcToken)
	p, err := f.payload(ctx, client)
	if err != nil {
		return err
	}

	pw, err := password.Get()
	if err != nil {
		return err
	}
	priv, err := wallet.LoadKey(*accountPath, pw)
	if err != nil {
		return err
	}
	w := wallet.New(priv, *chainID)
	acc, err := client.GetAccount(ctx, w.PubKey())
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	// Signed once; retries resend this exact transaction.
	tx, err := w.ReportResult(p, acc.Nonce, *fee)
	if err != nil {
		return err
	}
	receipt, err := relay.New(client).Settle(ctx, tx)
	if receipt != nil {
		if perr := printJSON(receipt); perr != nil {
			return perr
		}
	}
	if err != nil && !core.Retryable(err) {
		return fmt.Errorf("result already settled: %w", err)
	}
	return err
}

func readResult(path string) (attest.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return attest.Result{}, err
	}
	defer f.Close()

	var rf resultFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return attest.Result{}, fmt.Errorf("decode %s: %w", path, err)
	}
	var meta []byte
	if rf.Metadata != "" {
		if meta, err = hex.DecodeString(rf.Metadata); err != nil {
			return attest.Result{}, fmt.Errorf("metadata: %w", err)
		}
	}
	return attest.Result{
		SessionID: rf.SessionID,
		Player:    rf.Player,
		GameID:    rf.GameID,
		Score:     rf.Score,
		ExpGained: rf.ExpGained,
		Kills:     rf.Kills,
		Timestamp: rf.Timestamp,
		Meta:      meta,
	}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
