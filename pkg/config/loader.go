// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates a config file. A missing path yields a
// default configuration driven by the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the config atomically: a temp file in the target directory is
// renamed over the destination so readers never observe a partial write.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	return nil
}

// Masked returns a deep copy with secrets replaced by masked placeholders,
// safe to return from the config endpoint.
func (c *Config) Masked() *Config {
	out := *c

	out.LLM.APIKey = MaskSecret(c.LLM.APIKey)

	out.LLM.GeminiKeys = make([]GeminiKey, len(c.LLM.GeminiKeys))
	for i, k := range c.LLM.GeminiKeys {
		out.LLM.GeminiKeys[i] = GeminiKey{ID: k.ID, Key: MaskSecret(k.Key), Enabled: k.Enabled}
	}

	return &out
}

// MergeMasked substitutes masked secret placeholders in incoming with the
// stored values from current. Non-masked values pass through, so clients can
// rotate a secret by submitting the new plain value.
func MergeMasked(incoming, current *Config) {
	if IsMasked(incoming.LLM.APIKey) {
		incoming.LLM.APIKey = current.LLM.APIKey
	}

	existing := make(map[string]string, len(current.LLM.GeminiKeys))
	for _, k := range current.LLM.GeminiKeys {
		existing[k.ID] = k.Key
	}
	for i, k := range incoming.LLM.GeminiKeys {
		if IsMasked(k.Key) {
			if stored, ok := existing[k.ID]; ok {
				incoming.LLM.GeminiKeys[i].Key = stored
			}
		}
	}
}
