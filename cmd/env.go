package cmd

import (
	"fmt"
	"sort"

	"github.com/mcpharvest/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing  []string          // Required settings that are missing
	Present  map[string]string // Settings that are set (masked values)
	Warnings []string          // Non-fatal warnings
}

// CheckRequiredConfig reports which credentials and connection settings are present.
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:  []string{},
		Present:  make(map[string]string),
		Warnings: []string{},
	}

	required := map[string]string{
		"database.url": cfg.Database.URL,
	}
	if cfg.LLM.Provider != "ollama" {
		required["llm.api_key"] = cfg.LLM.APIKey
	}
	for key, val := range required {
		if val == "" {
			result.Missing = append(result.Missing, key)
		} else {
			result.Present[key] = maskSecret(val)
		}
	}
	sort.Strings(result.Missing)

	if cfg.Audit.Backend == "s3" {
		if cfg.Audit.AccessKey != "" {
			result.Present["audit.access_key"] = maskSecret(cfg.Audit.AccessKey)
		}
		if cfg.Audit.SecretKey != "" {
			result.Present["audit.secret_key"] = maskSecret(cfg.Audit.SecretKey)
		}
	}

	if cfg.Extraction.TestMode {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("test mode is on, passes stop after %d servers", cfg.Extraction.TestLimit))
	}
	if !cfg.Extraction.ScanSecrets {
		result.Warnings = append(result.Warnings, "secret scanning of extracted configs is disabled")
	}
	if cfg.Audit.Backend == "none" {
		result.Warnings = append(result.Warnings, "prompts and responses are not being kept")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(result *ConfigCheckResult) {
	fmt.Println("=== Configuration Check ===")
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
