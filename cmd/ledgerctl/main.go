// Command ledgerctl is the embedder stand-in this module ships so the
// library is a runnable, demonstrable Go repo rather than a package with no
// entry point — the same role cmd/cli/wallet.go plays for the teacher's
// core package. It wires ledger.State to a file-backed Store, drives
// persona registration/recovery/reconcile/ballot operations, and is not
// part of the protocol itself.
package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brave-intl/ledgerclient/internal/envutil"
	"github.com/brave-intl/ledgerclient/ledger"
	"github.com/brave-intl/ledgerclient/pkg/config"
)

var (
	logger = logrus.StandardLogger()
	once   sync.Once
	cfg    config.Config
)

func initMiddleware(cmd *cobra.Command, _ []string) error {
	var err error
	once.Do(func() {
		_ = godotenv.Load()
		lvl := envutil.OrDefault("LOG_LEVEL", "info")
		l, e := logrus.ParseLevel(lvl)
		if e != nil {
			err = e
			return
		}
		logger.SetLevel(l)

		loaded, e := config.LoadFromEnv()
		if e != nil {
			err = e
			return
		}
		cfg = *loaded
	})
	return err
}

// env wires one dispatcher, transport, request handler, and persisted state
// together for the lifetime of a single CLI invocation.
type env struct {
	state      *ledger.State
	dispatcher *ledger.Dispatcher
	operator   *ledger.OperatorClient
	oracle     ledger.CredentialOracle
}

func newEnv() (*env, error) {
	store, err := ledger.NewFileStore(cfg.Wallet.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	state, err := ledger.NewState(store)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	dispatcher := ledger.NewDispatcher(4)
	transport := ledger.NewHTTPTransport(cfg.Operator.RequestTimeout)
	handler := ledger.NewRequestHandler()
	operator := ledger.NewOperatorClient(transport, handler, cfg.Operator.BaseURL, "primary")
	return &env{state: state, dispatcher: dispatcher, operator: operator, oracle: ledger.NewStubCredentialOracle()}, nil
}

func (e *env) close() { e.dispatcher.Close() }

var rootCmd = &cobra.Command{
	Use:               "ledgerctl",
	Short:             "Wallet, reconcile, and ballot operations against a ledger operator",
	PersistentPreRunE: initMiddleware,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new persona and wallet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger.WithField("cmd", "register"))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		select {
		case err := <-w.RegisterPersona(ctx):
			if err != nil {
				return err
			}
			persona := e.state.Persona()
			fmt.Fprintf(cmd.OutOrStdout(), "registered persona %s, payment_id=%s\n", persona.PersonaID, persona.PaymentID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover <passphrase...>",
	Short: "Recover a wallet from a BIP-39 or Niceware passphrase",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		phrase := joinArgs(args)
		var dict ledger.NicewareDictionary
		if ledger.IsNicewareCandidate(phrase) {
			dictPath, _ := cmd.Flags().GetString("niceware-dict")
			if dictPath == "" {
				return fmt.Errorf("16-word phrase supplied; pass --niceware-dict")
			}
			raw, err := os.ReadFile(dictPath)
			if err != nil {
				return fmt.Errorf("read niceware dictionary: %w", err)
			}
			dict = ledger.ParseNicewareDictionary(string(raw))
		}

		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger.WithField("cmd", "recover"))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		select {
		case err := <-w.RecoverWallet(ctx, phrase, dict):
			if err != nil {
				return err
			}
			props := e.state.WalletProperties()
			fmt.Fprintf(cmd.OutOrStdout(), "recovered: payment_id=%s balance=%.2f\n", e.state.Persona().PaymentID, props.Balance)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the wallet's 24-word BIP-39 recovery passphrase, or seal it to an encrypted keystore file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		encryptPath, _ := cmd.Flags().GetString("encrypt")
		if encryptPath != "" {
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				return fmt.Errorf("--password is required with --encrypt")
			}
			seed := e.state.WalletInfo().KeyInfoSeed
			if len(seed) != 32 {
				return fmt.Errorf("no wallet registered yet")
			}
			ks, err := ledger.EncryptSeed(seed, password)
			if err != nil {
				return err
			}
			raw, err := ledger.MarshalKeystore(ks)
			if err != nil {
				return err
			}
			if err := os.WriteFile(encryptPath, raw, 0o600); err != nil {
				return fmt.Errorf("write keystore: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote encrypted keystore to %s\n", encryptPath)
			return nil
		}

		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger)
		phrase, err := w.ExportPassphrase()
		if err != nil {
			return err
		}
		if phrase == "" {
			return fmt.Errorf("no wallet registered yet")
		}
		fmt.Fprintln(cmd.OutOrStdout(), phrase)
		return nil
	},
}

var importKeystoreCmd = &cobra.Command{
	Use:   "import-keystore <path>",
	Short: "Recover a wallet from an encrypted keystore file written by 'export --encrypt'",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			return fmt.Errorf("--password is required")
		}
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read keystore: %w", err)
		}
		ks, err := ledger.UnmarshalKeystore(raw)
		if err != nil {
			return err
		}
		seed, err := ledger.DecryptSeed(ks, password)
		if err != nil {
			return err
		}
		phrase, err := ledger.BIP39Encode(seed)
		if err != nil {
			return err
		}

		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger.WithField("cmd", "import-keystore"))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		select {
		case err := <-w.RecoverWallet(ctx, phrase, nil):
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered: payment_id=%s\n", e.state.Persona().PaymentID)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

var ballotsCmd = &cobra.Command{
	Use:   "ballots",
	Short: "Run one tick of the ballot pipeline, or report pending counts",
}

var ballotsTickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Advance the ballot pipeline by one prepare/vote cycle",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		pipeline := ledger.NewBallotPipeline(e.state, e.operator, e.oracle, e.dispatcher, cfg.Ballot.VoteBatchSize, logger.WithField("cmd", "ballots"))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		pipeline.PrepareBallots(ctx)
		pipeline.PrepareVoteBatch()
		pipeline.VoteBatch(ctx)
		time.Sleep(100 * time.Millisecond) // let in-flight callbacks land before the process exits
		fmt.Fprintf(cmd.OutOrStdout(), "batch votes pending: %d\n", e.state.BatchVotesLen())
		return nil
	},
}

var ballotsStatusCmd = &cobra.Command{
	Use:   "status <viewing-id>",
	Short: "Report ballots still outstanding for a viewing id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()
		fmt.Fprintf(cmd.OutOrStdout(), "%d\n", e.state.PendingBallots(args[0]))
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Fetch or claim a promotional grant",
}

var grantFetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch the active grant, if any",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()
		lang, _ := cmd.Flags().GetString("lang")
		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger)
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		if err := <-w.FetchGrant(ctx, lang); err != nil {
			return err
		}
		g := e.state.Grant()
		if g == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "no active grant")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "grant %s: %s probi, expires %s\n", g.PromotionID, g.Probi, time.Unix(g.ExpiryTime, 0))
		return nil
	},
}

var grantClaimCmd = &cobra.Command{
	Use:   "claim <captcha-solution>",
	Short: "Claim the active grant with a solved captcha",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()
		w := ledger.NewWallet(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, cfg.Wallet.TestMode, logger)
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		if err := <-w.ClaimGrant(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "grant claimed")
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start an AutoContribute reconcile against the configured publisher list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.close()

		publishers, _ := cmd.Flags().GetStringArray("publisher")
		if len(publishers) == 0 {
			return fmt.Errorf("at least one --publisher is required")
		}
		list := make([]ledger.PublisherShare, len(publishers))
		for i, p := range publishers {
			list[i] = ledger.PublisherShare{PublisherID: p, Weight: 1}
		}

		done := make(chan ledger.ReconcileOutcome, 1)
		r := ledger.NewReconciler(e.state, e.operator, e.oracle, e.dispatcher, cfg.Wallet.Currency, func(o ledger.ReconcileOutcome) { done <- o }, logger.WithField("cmd", "reconcile"))
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Operator.RequestTimeout)
		defer cancel()
		r.StartAutoContribute(ctx, list)
		select {
		case outcome := <-done:
			if outcome.Probi != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "reconcile %s: %s (probi %s)\n", outcome.ViewingID, outcome.Result, outcome.Probi)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "reconcile %s: %s\n", outcome.ViewingID, outcome.Result)
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	},
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func init() {
	recoverCmd.Flags().String("niceware-dict", "", "path to the newline-delimited niceware word list (required for 16-word phrases)")
	reconcileCmd.Flags().StringArray("publisher", nil, "publisher id to include in the contribution list (repeatable)")
	grantFetchCmd.Flags().String("lang", "en", "language for the grant response")
	exportCmd.Flags().String("encrypt", "", "write a PBKDF2-AES-256-GCM encrypted keystore to this path instead of printing the passphrase")
	exportCmd.Flags().String("password", "", "password for --encrypt")
	importKeystoreCmd.Flags().String("password", "", "password the keystore was encrypted with")

	ballotsCmd.AddCommand(ballotsTickCmd, ballotsStatusCmd)
	grantCmd.AddCommand(grantFetchCmd, grantClaimCmd)
	rootCmd.AddCommand(registerCmd, recoverCmd, exportCmd, importKeystoreCmd, reconcileCmd, ballotsCmd, grantCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
