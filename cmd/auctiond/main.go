package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/textileio/auctiond/chain"
	"github.com/textileio/auctiond/cmd/auctiond/binder"
	"github.com/textileio/auctiond/cmd/auctiond/httpapi"
	"github.com/textileio/auctiond/cmd/auctiond/poller"
	"github.com/textileio/auctiond/cmd/auctiond/prover"
	"github.com/textileio/auctiond/cmd/auctiond/service"
	"github.com/textileio/auctiond/cmd/auctiond/store"
	"github.com/textileio/auctiond/cmd/common"
	"github.com/textileio/auctiond/eerc"
	"go.uber.org/multierr"
)

var (
	daemonName = "auctiond"
	log        = golog.Logger(daemonName)
	v          = viper.New()
)

func init() {
	flags := []common.Flag{
		{Name: "rpc-url", DefValue: "https://api.avax-test.network/ext/bc/C/rpc", Description: "Ledger JSON-RPC endpoint"},
		{Name: "rpc-timeout", DefValue: 30 * time.Second, Description: "Timeout of every ledger call"},
		{Name: "escrow-private-key", DefValue: "", Description: "Escrow EVM private key (hex)"},
		{Name: "deployment-file", DefValue: "", Description: "Deployment JSON with contract addresses"},
		{Name: "eerc-contract", DefValue: "", Description: "EncryptedERC contract address"},
		{Name: "registrar-contract", DefValue: "", Description: "Registrar contract address"},
		{Name: "token-id", DefValue: uint64(0), Description: "Encrypted token id"},
		{Name: "poll-interval", DefValue: 4 * time.Second, Description: "Time between ledger scans"},
		{Name: "start-block", DefValue: uint64(0), Description: "First block scanned without a saved cursor; 0 is the current head"},
		{Name: "max-block-range", DefValue: uint64(2048), Description: "Max blocks per log query; 0 is unlimited"},
		{Name: "topic-filter", DefValue: true, Description: "Filter log queries by the escrow recipient topic"},
		{Name: "bind-attempts", DefValue: uint(5), Description: "Receipt lookups before a bind reports the bid as not found"},
		{Name: "bind-delay", DefValue: 1500 * time.Millisecond, Description: "Delay between receipt lookups"},
		{Name: "dlog-ceiling", DefValue: uint64(eerc.DefaultCeiling), Description: "Largest balance the discrete log search finds"},
		{Name: "strict-balance", DefValue: false, Description: "Fail transfers when the escrow balance is beyond the search ceiling"},
		{Name: "prover-url", DefValue: "http://127.0.0.1:4002", Description: "Proof generation service URL"},
		{Name: "state-backend", DefValue: "file", Description: "State backend: file or leveldb"},
		{Name: "state-path", DefValue: "./data/state.json", Description: "State snapshot location"},
		{Name: "http-addr", DefValue: ":4001", Description: "HTTP API listen address"},
		{Name: "cors-origins", DefValue: "*", Description: "Allowed CORS origins", Repeatable: true},
		{Name: "metrics-addr", DefValue: ":9090", Description: "Prometheus listen address"},
		{Name: "log-debug", DefValue: false, Description: "Enable debug level logging"},
		{Name: "log-json", DefValue: false, Description: "Enable structured logging"},
		{Name: "log-levels", DefValue: "", Description: "Per-system log levels, e.g. auctiond/poller=debug,chain=warn"},
	}

	cobra.OnInitialize(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			common.CheckErrf("loading .env: %v", err)
		}
	})
	common.CheckErr(common.ConfigureCLI(v, "AUCTIOND", flags, rootCmd))

	bindingHashCmd.Flags().String("auction-id", "", "Auction id")
	bindingHashCmd.Flags().String("sender", "", "Bidder address")
	bindingHashCmd.Flags().String("escrow", "", "Escrow address")
	bindingHashCmd.Flags().String("tx-hash", "", "Transfer transaction hash")
	bindingHashCmd.Flags().String("amount", "", "Bid amount in minor units")
	bindingHashCmd.Flags().Int64("chain-id", 43113, "Chain id")
	deriveKeyCmd.Flags().String("key", "", "EVM private key (hex)")
	rootCmd.AddCommand(bindingHashCmd, deriveKeyCmd)
}

var rootCmd = &cobra.Command{
	Use:   daemonName,
	Short: "auctiond reconciles confidential bids with sealed-bid auctions",
	Long:  "auctiond captures confidential transfers to an escrow, binds them to auctions and settles the results",
	PersistentPreRun: func(c *cobra.Command, args []string) {
		common.ExpandEnvVars(v, v.AllSettings())
		err := common.ConfigureLogging(v, []string{
			daemonName,
			"auctiond/service",
			"auctiond/store",
			"auctiond/poller",
			"auctiond/binder",
			"auctiond/settler",
			"auctiond/prover",
			"auctiond/api",
			"auctiond/common",
			"chain",
		})
		common.CheckErrf("setting log levels: %v", err)
	},
	Run: func(c *cobra.Command, args []string) {
		settings, err := json.MarshalIndent(redacted(v.AllSettings()), "", "  ")
		common.CheckErrf("marshaling config: %v", err)
		log.Infof("loaded config: %s", string(settings))

		err = common.SetupInstrumentation(v.GetString("metrics-addr"))
		common.CheckErrf("booting instrumentation: %v", err)

		escrowKey, err := crypto.HexToECDSA(strings.TrimPrefix(v.GetString("escrow-private-key"), "0x"))
		common.CheckErrf("parsing escrow private key: %v", err)
		escrowEERC, err := eerc.DeriveKeyFromECDSA(escrowKey)
		common.CheckErrf("deriving escrow encryption key: %v", err)

		addrs, err := loadContracts(v)
		common.CheckErrf("loading contract addresses: %v", err)

		ctx := context.Background()
		ledger, err := chain.New(ctx, chain.Config{
			RPCURL:       v.GetString("rpc-url"),
			Timeout:      v.GetDuration("rpc-timeout"),
			EncryptedERC: addrs.EncryptedERC,
			Registrar:    addrs.Registrar,
			TokenID:      new(big.Int).SetUint64(v.GetUint64("token-id")),
			EscrowKey:    escrowKey,
		})
		common.CheckErrf("connecting to ledger: %v", err)

		snap, err := newSnapshotter(v.GetString("state-backend"), v.GetString("state-path"))
		common.CheckErrf("opening state: %v", err)

		serv, err := service.New(ctx, service.Config{
			EscrowKey:    escrowEERC,
			EncryptedERC: addrs.EncryptedERC,
			Registrar:    addrs.Registrar,
			Poller: poller.Config{
				Interval:      v.GetDuration("poll-interval"),
				StartBlock:    v.GetUint64("start-block"),
				MaxBlockRange: v.GetUint64("max-block-range"),
				TopicFilter:   v.GetBool("topic-filter"),
			},
			Binder: binder.Config{
				Attempts: v.GetUint("bind-attempts"),
				Delay:    v.GetDuration("bind-delay"),
			},
			DLogCeiling:   v.GetUint64("dlog-ceiling"),
			StrictBalance: v.GetBool("strict-balance"),
		}, ledger, snap, prover.New(v.GetString("prover-url")))
		common.CheckErrf("starting service: %v", err)

		server, err := httpapi.NewServer(v.GetString("http-addr"), common.ParseStringSlice(v, "cors-origins"), serv)
		common.CheckErrf("starting http server: %v", err)

		common.HandleInterrupt(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := multierr.Combine(server.Shutdown(ctx), serv.Close())
			common.CheckErrf("closing service: %v", err)
		})
	},
}

var bindingHashCmd = &cobra.Command{
	Use:   "binding-hash",
	Short: "Compute the binding commitment of a bid",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		flag := func(name string) string {
			s, err := c.Flags().GetString(name)
			common.CheckErr(err)
			return s
		}
		chainID, err := c.Flags().GetInt64("chain-id")
		common.CheckErr(err)
		for _, addr := range []string{"sender", "escrow"} {
			if !ethcommon.IsHexAddress(flag(addr)) {
				common.CheckErr(fmt.Errorf("invalid %s address %q", addr, flag(addr)))
			}
		}
		amount, ok := new(big.Int).SetString(flag("amount"), 10)
		if !ok {
			common.CheckErr(fmt.Errorf("invalid amount %q", flag("amount")))
		}
		h := binder.BindingHash(
			big.NewInt(chainID),
			flag("auction-id"),
			ethcommon.HexToAddress(flag("sender")),
			ethcommon.HexToAddress(flag("escrow")),
			amount,
			ethcommon.HexToHash(flag("tx-hash")))
		fmt.Println(h.Hex())
	},
}

var deriveKeyCmd = &cobra.Command{
	Use:   "derive-key",
	Short: "Print the encryption key derived from an EVM private key",
	Args:  cobra.NoArgs,
	Run: func(c *cobra.Command, args []string) {
		hexKey, err := c.Flags().GetString("key")
		common.CheckErr(err)
		if hexKey == "" {
			hexKey = v.GetString("escrow-private-key")
		}
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		common.CheckErrf("parsing private key: %v", err)
		k, err := eerc.DeriveKeyFromECDSA(key)
		common.CheckErrf("deriving key: %v", err)
		pub := k.Public()
		fmt.Printf("address:    %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		fmt.Printf("privateKey: %s\n", k.Raw())
		fmt.Printf("publicKey:  [%s, %s]\n", pub.X, pub.Y)
	},
}

type contracts struct {
	EncryptedERC ethcommon.Address
	Registrar    ethcommon.Address
}

// loadContracts reads the deployment file, if any, and applies the address
// flags on top of it.
func loadContracts(v *viper.Viper) (contracts, error) {
	var c contracts
	if path := v.GetString("deployment-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return contracts{}, fmt.Errorf("reading deployment file: %v", err)
		}
		var d struct {
			Contracts struct {
				EncryptedERC string `json:"encryptedERC"`
				Registrar    string `json:"registrar"`
			} `json:"contracts"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return contracts{}, fmt.Errorf("parsing deployment file: %v", err)
		}
		c.EncryptedERC = ethcommon.HexToAddress(d.Contracts.EncryptedERC)
		c.Registrar = ethcommon.HexToAddress(d.Contracts.Registrar)
	}
	for name, dst := range map[string]*ethcommon.Address{
		"eerc-contract":      &c.EncryptedERC,
		"registrar-contract": &c.Registrar,
	} {
		s := v.GetString(name)
		if s == "" {
			continue
		}
		if !ethcommon.IsHexAddress(s) {
			return contracts{}, fmt.Errorf("invalid %s address %q", name, s)
		}
		*dst = ethcommon.HexToAddress(s)
	}
	if c.EncryptedERC == (ethcommon.Address{}) || c.Registrar == (ethcommon.Address{}) {
		return contracts{}, fmt.Errorf("encryptedERC and registrar addresses are required")
	}
	return c, nil
}

func newSnapshotter(backend, path string) (store.Snapshotter, error) {
	switch backend {
	case "file":
		return store.NewFileSnapshotter(path)
	case "leveldb":
		return store.NewLevelDBSnapshotter(path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

func redacted(settings map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for k, val := range settings {
		if strings.Contains(k, "private-key") && val != "" {
			val = "<redacted>"
		}
		out[k] = val
	}
	return out
}

func main() {
	common.CheckErr(rootCmd.Execute())
}
