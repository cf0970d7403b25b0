package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagLoader loads configuration values with CLI flag precedence.
// When a CLI flag is explicitly set, it takes precedence over config file and env vars.
// Otherwise, viper's standard priority applies: env > config file > default.
type FlagLoader struct {
	cmd *cobra.Command
	v   *viper.Viper
}

// NewFlagLoader creates a FlagLoader for the given cobra command.
func NewFlagLoader(cmd *cobra.Command, v *viper.Viper) *FlagLoader {
	return &FlagLoader{cmd: cmd, v: v}
}

// String returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) String(flagName string) string {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetString(flagName)
		return val
	}
	return f.v.GetString(flagName)
}

// Int returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Int(flagName string) int {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetInt(flagName)
		return val
	}
	return f.v.GetInt(flagName)
}

// Bool returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Bool(flagName string) bool {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetBool(flagName)
		return val
	}
	return f.v.GetBool(flagName)
}

// Duration returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) Duration(flagName string) time.Duration {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetDuration(flagName)
		return val
	}
	return f.v.GetDuration(flagName)
}

// StringSlice returns CLI flag value if explicitly set, otherwise viper value.
func (f *FlagLoader) StringSlice(flagName string) []string {
	if f.cmd.Flags().Changed(flagName) {
		val, _ := f.cmd.Flags().GetStringSlice(flagName)
		return val
	}
	return f.v.GetStringSlice(flagName)
}

// Size parses a human readable size such as "5MB" or "1GiB" in binary units.
// An empty value yields zero.
func (f *FlagLoader) Size(flagName string) (int64, error) {
	raw := strings.TrimSpace(f.String(flagName))
	if raw == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s: %w", flagName, err)
	}
	return size, nil
}

// KeyValues parses repeated key=value flags into a map.
func (f *FlagLoader) KeyValues(flagName string) (map[string]string, error) {
	return parseKeyValues(flagName, f.StringSlice(flagName))
}

func parseKeyValues(flagName string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --%s %q: expected key=value", flagName, pair)
		}
		out[key] = value
	}
	return out, nil
}
