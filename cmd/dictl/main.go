package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/comfortage/dataintegrity/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	bearerToken string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dictl",
	Short: "Data integrity ledger CLI",
	Long: `dictl is the command-line interface for the data integrity ledger.

It registers content fingerprints for named data objects, appends new
versions, and verifies candidate fingerprints against the ledger.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.dictl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.dictl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger API base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "session token (or TOKEN env var)")

	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(fingerprintCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{}
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	return client.New(serverURL, opts...)
}

// ── store / update ───────────────────────────────────────────────────────────

var storeMetadataRef string

var storeCmd = &cobra.Command{
	Use:   "store <id> <fingerprint>",
	Short: "Register a fingerprint for a new data object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref *string
		if storeMetadataRef != "" {
			ref = &storeMetadataRef
		}
		res, err := newClient().StoreRecord(context.Background(), args[0], args[1], ref)
		if err != nil {
			return err
		}
		fmt.Printf("stored %s at sequence %d\n", res.RecordID, res.Sequence)
		return nil
	},
}

var updateMetadataRef string

var updateCmd = &cobra.Command{
	Use:   "update <id> <fingerprint>",
	Short: "Append a new fingerprint to an existing record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref *string
		if updateMetadataRef != "" {
			ref = &updateMetadataRef
		}
		res, err := newClient().UpdateRecord(context.Background(), args[0], args[1], ref)
		if err != nil {
			return err
		}
		fmt.Printf("updated %s at sequence %d\n", res.RecordID, res.Sequence)
		return nil
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeMetadataRef, "metadata-ref", "", "external metadata pointer (e.g. a CID)")
	updateCmd.Flags().StringVar(&updateMetadataRef, "metadata-ref", "", "external metadata pointer (e.g. a CID)")
}

// ── get / history / audit ────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch the current record for a data object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := newClient().GetRecord(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "List the ordered fingerprint history of a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := newClient().GetHistory(context.Background(), args[0])
		if err != nil {
			return err
		}
		for i, fp := range history {
			fmt.Printf("%d\t%s\n", i, fp)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit [id]",
	Short: "Show the audit trail for a record, or the whole ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		events, err := newClient().AuditTrail(context.Background(), id)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKIND\tRECORD\tACTOR\tTIME")
		for _, ev := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				ev.Sequence, ev.Kind, ev.RecordID, ev.Actor, ev.Time.Format("2006-01-02T15:04:05Z07:00"))
		}
		return w.Flush()
	},
}

// ── verify / check ───────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <id> <fingerprint>",
	Short: "Run an audited integrity validation (requires validator token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Validate(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		printVerdict(res)
		if !res.IsValid {
			os.Exit(1)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check <id> <fingerprint>",
	Short: "Run a free, un-audited integrity check (no token needed)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().QuickCheck(context.Background(), args[0], args[1])
		if err != nil {
			return err
		}
		printVerdict(res)
		if !res.IsValid {
			os.Exit(1)
		}
		return nil
	},
}

func printVerdict(res *client.ValidationResult) {
	if res.IsValid {
		fmt.Printf("VALID    %s\n", res.RecordID)
		return
	}
	fmt.Printf("INVALID  %s\n", res.RecordID)
	fmt.Printf("  candidate: %s\n", res.Candidate)
	fmt.Printf("  stored:    %s\n", res.Stored)
}

// ── roles ────────────────────────────────────────────────────────────────────

var grantCmd = &cobra.Command{
	Use:   "grant <identity> <capability>",
	Short: "Grant a capability (ingester, validator, admin) to an identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().GrantRole(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("granted %s to %s\n", args[1], args[0])
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <identity> <capability>",
	Short: "Revoke a capability from an identity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().RevokeRole(context.Background(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("revoked %s from %s\n", args[1], args[0])
		return nil
	},
}

// ── login / status / fingerprint / version ───────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Exchange the admin secret for a session token",
	Long: `Login reads the admin secret from the DICTL_ADMIN_SECRET environment
variable and prints the session token. Export it for later commands:

  export TOKEN=$(DICTL_ADMIN_SECRET=... dictl login)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("DICTL_ADMIN_SECRET")
		if secret == "" {
			return fmt.Errorf("DICTL_ADMIN_SECRET is not set")
		}
		token, err := newClient().FetchAdminToken(context.Background(), secret)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ledger transport state and commit height",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newClient().GetStatus(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("State:    %s\n", status.State)
		fmt.Printf("Sequence: %d\n", status.Sequence)
		if status.LastError != "" {
			fmt.Printf("Error:    %s\n", status.LastError)
		}
		return nil
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint <file>",
	Short: "Compute the SHA-256 fingerprint of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		fmt.Printf("0x%s\n", hex.EncodeToString(h.Sum(nil)))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the dictl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("dictl", version)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
