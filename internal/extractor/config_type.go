package extractor

import "strings"

// Config types stored alongside each persisted config.
const (
	ConfigTypeNPM    = "npm"
	ConfigTypePython = "python"
	ConfigTypeDocker = "docker"
	ConfigTypeBinary = "binary"
	ConfigTypeOther  = "other"
)

// InferConfigType classifies a config by its launch command.
func InferConfigType(command string) string {
	cmd := strings.ToLower(strings.TrimSpace(command))
	switch {
	case strings.Contains(cmd, "npx"), strings.Contains(cmd, "node"), strings.Contains(cmd, "npm"):
		return ConfigTypeNPM
	case strings.Contains(cmd, "python"), strings.Contains(cmd, "uvx"):
		return ConfigTypePython
	case strings.Contains(cmd, "docker"):
		return ConfigTypeDocker
	case cmd == "go", cmd == "cargo", cmd == "dotnet", cmd == "java":
		return ConfigTypeBinary
	default:
		return ConfigTypeOther
	}
}
