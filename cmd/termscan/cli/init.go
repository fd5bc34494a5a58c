package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"termscan/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up termscan config and credentials",
	Long:  "Interactive wizard that creates ~/.config/termscan/ with config.toml and credentials.toml, then initializes the ledger database.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// An explicit --config flag means a project-local init.
	if cfgPath != "" {
		return runLocalInit()
	}
	return runGlobalInit()
}

// runGlobalInit is the interactive wizard for ~/.config/termscan/.
func runGlobalInit() error {
	reader := bufio.NewReader(os.Stdin)

	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	cfgFile, err := config.GlobalConfigPath()
	if err != nil {
		return err
	}
	credsFile, err := config.CredentialsPath()
	if err != nil {
		return err
	}

	// 1. Detect existing setup.
	if _, err := os.Stat(credsFile); err == nil {
		fmt.Printf("Existing credentials found at %s\n", credsFile)
		fmt.Print("Re-run setup? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// 2. Create config directory.
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	// 3. Prompt for the API key (masked input).
	fmt.Print("OpenAI API key (input is hidden): ")
	keyBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after hidden input
	if err != nil {
		return fmt.Errorf("read api key: %w", err)
	}
	key := strings.TrimSpace(string(keyBytes))

	// 4. If empty, check env var and offer to save it.
	if key == "" {
		if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
			fmt.Print("OPENAI_API_KEY env var detected. Save it to credentials.toml? [Y/n]: ")
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			if answer == "" || answer == "y" || answer == "yes" {
				key = envKey
			}
		}
	}

	// 5. Write credentials.toml (0600), preserving existing fields.
	creds, err := config.LoadCredentials()
	if err != nil {
		creds = &config.Credentials{}
	}
	if key != "" {
		creds.APIKey = key
	}
	if err := config.SaveCredentials(creds); err != nil {
		return err
	}
	fmt.Printf("Credentials saved: %s\n", credsFile)

	// 6. Create config.toml with defaults (if not exists).
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.WriteFile(cfgFile, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Config created: %s\n", cfgFile)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgFile)
	}

	// 7. Initialize the ledger DB via LoadMinimal.
	cfg, err := config.LoadMinimal(cfgFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	fmt.Printf("Database initialized: %s\n", cfg.DBPath)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Load articles:        termscan import articles.jsonl.gz\n")
	fmt.Printf("  2. Submit a batch:       termscan submit\n")
	fmt.Printf("  3. Watch its progress:   termscan watch <batch-id>\n")
	return nil
}

// runLocalInit creates a project-local config file next to the data it
// will manage.
func runLocalInit() error {
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := os.WriteFile(cfgPath, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("write config template: %w", err)
		}
		fmt.Printf("Created config template: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadMinimal(cfgPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("Database initialized: %s\n", cfg.DBPath)
	fmt.Println("Set your API key, then run: termscan import <file.jsonl>")
	return nil
}

const configTemplate = `# termscan configuration
#
# The API key lives in ~/.config/termscan/credentials.toml or the
# TERMSCAN_API_KEY / OPENAI_API_KEY env vars, not here.
#
# Data files (ledger DB, batch manifests) default to ~/.local/share/termscan/
# Override with XDG_DATA_HOME or set paths explicitly below.

log_level = "info"              # debug|info|warn|error
# db_path = "termscan.db"
# manifest_dir = "manifests"

[api]
base_url = "https://api.openai.com/v1"
model = "gpt-5-mini"
completion_window = "24h"       # the only window the batch API offers today
request_timeout = "2m"          # per HTTP attempt, uploads included

[submit]
max_items = 40000               # per-batch cap
# journals = [
#   "American Journal of Human Genetics",
#   "European Journal of Human Genetics",
# ]

[poll]
interval = "15s"                # watch poll interval
max_polls = 5760                # watch gives up after this many polls
throughput_window = "6h"        # snapshot lookback for items/hour rates

[notify]
# webhook_url = "https://example.com/hook"                  # generic JSON webhook
# slack_webhook = "https://hooks.slack.com/services/..."    # Slack incoming webhook
# desktop = true                                            # macOS desktop notifications
`
