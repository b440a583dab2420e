package wire

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// ParseTasksConfig decodes and validates tasks.toml content. Decode order is
// the strict one spec.md §6 requires for transported blobs: here the input
// is already plain UTF-8 TOML text (gzip+base64 unwrapping happens in the
// sender/receiver, not here).
func ParseTasksConfig(data []byte) (*TasksConfig, error) {
	var f tasksFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tasks.toml: %w", err)
	}
	tc := &TasksConfig{Tasks: make([]TaskConfig, 0, len(f.Tasks))}
	for _, raw := range f.Tasks {
		t, err := raw.toTaskConfig()
		if err != nil {
			return nil, err
		}
		tc.Tasks = append(tc.Tasks, t)
	}
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

// ParseAgentConfig decodes and validates agent.toml content.
func ParseAgentConfig(data []byte) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse agent.toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MarshalAgentConfig encodes an AgentConfig back to TOML, used when the CLI
// persists flag overrides back to disk.
func MarshalAgentConfig(cfg *AgentConfig) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ParseServerConfig decodes and validates server.toml content.
func ParseServerConfig(data []byte) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse server.toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MarshalServerConfig encodes a ServerConfig back to TOML.
func MarshalServerConfig(cfg *ServerConfig) ([]byte, error) {
	return toml.Marshal(cfg)
}
