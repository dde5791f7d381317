package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/portalsync/internal/config"
	"github.com/steveyegge/portalsync/internal/tracker"
	"github.com/steveyegge/portalsync/internal/ui"
)

const redacted = "********"

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration settings",
	Long: `Show, change and check the psync configuration.

Settings are read from psync.yaml (or --config), then overridden by PSYNC_*
environment variables. JIRA_URL, JIRA_USERNAME and JIRA_API_TOKEN are honoured
when the matching jira.* key is unset.

Examples:
  psync config show
  psync config set jira.url https://jira.example.com
  psync config set fields.portal-key customfield_10937
  psync config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			FatalError("%v", err)
		}
		shown := redactConfig(cfg)
		if jsonOutput {
			outputJSON(shown)
			return
		}
		out, err := yaml.Marshal(shown)
		if err != nil {
			FatalError("encode config: %v", err)
		}
		if cfg.File != "" {
			fmt.Println(ui.RenderMuted("# " + cfg.File))
		} else {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarnIcon(), ui.RenderWarn("no config file, showing defaults and environment only"))
		}
		fmt.Print(ui.RenderYAML(string(out)))
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the config file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]
		if !config.IsSettableKey(key) {
			FatalErrorWithHint(fmt.Sprintf("%q cannot be set from the command line", key),
				"Settable keys: "+strings.Join(settableKeys(), ", "))
		}
		path := configPath
		if path == "" {
			path = config.DefaultFileName
		}
		if err := config.SetYamlConfig(path, key, value); err != nil {
			FatalError("setting config: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{
				"key":      key,
				"value":    value,
				"location": path,
			})
			return
		}
		fmt.Printf("Set %s = %s (in %s)\n", key, value, path)
		if cfg, err := config.Load(config.WithFile(path)); err == nil {
			if n := len(validationProblems(cfg)); n > 0 {
				WarnError("%s has %d problem(s); run 'psync config validate'", path, n)
			}
		}
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for problems",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			FatalError("%v", err)
		}
		problems := validationProblems(cfg)
		if jsonOutput {
			if problems == nil {
				problems = []string{}
			}
			outputJSON(map[string]interface{}{
				"valid":    len(problems) == 0,
				"problems": problems,
			})
			if len(problems) > 0 {
				os.Exit(1)
			}
			return
		}
		if len(problems) == 0 {
			fmt.Printf("%s Configuration is valid\n", ui.RenderPassIcon())
			return
		}
		fmt.Printf("%s %d problem(s):\n", ui.RenderFailIcon(), len(problems))
		width := ui.TerminalWidth(100)
		for _, p := range problems {
			fmt.Println(ui.FitLine(fmt.Sprintf("  %s %s", ui.RenderFail("-"), p), width))
		}
		os.Exit(1)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// redactConfig returns a copy of cfg with credentials masked.
func redactConfig(cfg *config.Config) config.Config {
	shown := *cfg
	if shown.Jira.APIToken != "" {
		shown.Jira.APIToken = redacted
	}
	if shown.Webhook.Secret != "" {
		shown.Webhook.Secret = redacted
	}
	if shown.Storage.Dolt.Password != "" {
		shown.Storage.Dolt.Password = redacted
	}
	return shown
}

// validationProblems flattens the joined errors of cfg.Validate, one problem
// per line, and checks that the configured host adapter exists.
func validationProblems(cfg *config.Config) []string {
	var problems []string
	if tracker.Get(cfg.Host) == nil {
		problems = append(problems, fmt.Sprintf("host: %q is not a known host (known: %s)",
			cfg.Host, strings.Join(tracker.List(), ", ")))
	}
	err := cfg.Validate()
	if err == nil {
		return problems
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			problems = append(problems, e.Error())
		}
		return problems
	}
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			problems = append(problems, line)
		}
	}
	return problems
}

func settableKeys() []string {
	keys := make([]string, 0, len(config.SettableKeys)+1)
	for k := range config.SettableKeys {
		keys = append(keys, k)
	}
	keys = append(keys, "fields.<role>")
	sort.Strings(keys)
	return keys
}
