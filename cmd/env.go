package cmd

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/replyradar/internal/aiconnectors"
	"github.com/replyradar/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are empty
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
	Durable  bool              // Whether a database is configured
}

// CheckRequiredConfig reports which secrets and connection settings are present in cfg
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
		Durable:  cfg.Database.URL != "",
	}

	required := map[string]string{
		"server.job_secret": cfg.Server.JobSecret,
		"llm.model":         cfg.LLM.Model,
	}
	if cfg.LLM.Provider != aiconnectors.ProviderOllama {
		required["llm.api_key"] = cfg.LLM.APIKey
	}
	for k, v := range required {
		if v == "" {
			result.Missing = append(result.Missing, k)
		} else {
			result.Present[k] = maskSecret(v)
		}
	}
	sort.Strings(result.Missing)

	optional := map[string]string{
		"database.url":       cfg.Database.URL,
		"notify.webhook_url": cfg.Notify.WebhookURL,
		"llm.base_url":       cfg.LLM.BaseURL,
	}
	for k, v := range optional {
		if v != "" {
			result.Present[k] = maskSecret(v)
		}
	}

	if !result.Durable {
		result.Warnings = append(result.Warnings, "database.url is empty, state is kept in memory only")
	}
	if cfg.Notify.WebhookURL == "" {
		result.Warnings = append(result.Warnings, "notify.webhook_url is empty, budget and classifier alerts are dropped")
	}
	if cfg.Server.JobSecret == "change-me" {
		result.Warnings = append(result.Warnings, "server.job_secret still has the sample value")
	}
	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")

	if result.Durable {
		fmt.Println("Store: Postgres")
	} else {
		fmt.Println("Store: in-memory")
	}

	fmt.Println("")

	if len(result.Missing) > 0 {
		fmt.Println("❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Printf("   - %s\n", v)
		}
		fmt.Println("")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("✓ Configured settings:")
		for _, k := range keys {
			fmt.Printf("   - %s = %s\n", k, result.Present[k])
		}
		fmt.Println("")
	}

	for _, w := range result.Warnings {
		fmt.Printf("⚠ Warning: %s\n", w)
	}

	if len(result.Missing) == 0 {
		fmt.Println("✓ All required configuration is present")
	}

	fmt.Println("============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
