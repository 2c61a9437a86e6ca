package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/adamscao/certguard/internal/config"
	"github.com/adamscao/certguard/internal/ledger"
	"github.com/adamscao/certguard/pkg/digest"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the local ledger journal",
}

var ledgerCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Recompute every journal entry hash and link",
	Args:  cobra.NoArgs,
	RunE:  checkLedger,
}

var ledgerLookupCmd = &cobra.Command{
	Use:   "lookup [content-hash]",
	Short: "Show the journal entry anchoring a content hash or a file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  lookupLedger,
}

var lookupFile string

func init() {
	ledgerLookupCmd.Flags().StringVarP(&lookupFile, "file", "f", "", "Hash this file and look up its digest")

	ledgerCmd.AddCommand(ledgerCheckCmd)
	ledgerCmd.AddCommand(ledgerLookupCmd)
}

func openLocalLedger() (*ledger.Local, error) {
	var err error
	cfg, err = config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Ledger.Backend != config.LedgerBackendLocal {
		return nil, fmt.Errorf("ledger backend is %q; only the local journal can be inspected", cfg.Ledger.Backend)
	}
	l, err := ledger.OpenLocal(cfg.Ledger.Local.Path, cfg.Ledger.Address)
	if err != nil {
		return nil, ledgerOpenError(err)
	}
	return l, nil
}

func checkLedger(cmd *cobra.Command, args []string) error {
	l, err := openLocalLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	checked, err := l.CheckChain()
	var chainErr *ledger.ChainError
	if errors.As(err, &chainErr) {
		color.Red("✗ %v", chainErr)
		fmt.Printf("  %d entries verified before the break\n", checked)
		cmd.SilenceUsage = true
		return fmt.Errorf("ledger journal is corrupt")
	}
	if err != nil {
		return err
	}

	color.Green("✓ ledger journal intact")
	fmt.Printf("  Address: %s\n", l.Address())
	fmt.Printf("  Entries: %d\n", checked)
	return nil
}

// lookupHash resolves the digest to look up from the argument or --file
func lookupHash(args []string) (string, error) {
	switch {
	case lookupFile != "" && len(args) == 1:
		return "", fmt.Errorf("pass either a content hash or --file, not both")
	case lookupFile != "":
		f, err := os.Open(lookupFile)
		if err != nil {
			return "", fmt.Errorf("failed to open artifact: %w", err)
		}
		defer f.Close()
		return digest.SumReader(f)
	case len(args) == 1:
		if !digest.Valid(args[0]) {
			return "", fmt.Errorf("invalid content hash: %s", args[0])
		}
		return digest.Normalize(args[0]), nil
	default:
		return "", fmt.Errorf("a content hash or --file is required")
	}
}

func lookupLedger(cmd *cobra.Command, args []string) error {
	hash, err := lookupHash(args)
	if err != nil {
		return err
	}

	l, err := openLocalLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	entry, ok := l.Lookup(hash)
	if !ok {
		color.Yellow("%s is not anchored on %s", hash, l.Address())
		return nil
	}

	fmt.Printf("Index:      %d\n", entry.Index)
	fmt.Printf("Hash:       %s\n", entry.Hash)
	fmt.Printf("Tx ref:     %s\n", entry.TxRef())
	fmt.Printf("Anchored:   %s\n", time.Unix(0, entry.Timestamp).UTC().Format(time.RFC3339))
	return nil
}
