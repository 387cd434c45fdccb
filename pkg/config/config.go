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

// Package config defines the configuration surface of the agent server.
//
// Configuration is loaded from a YAML file, filled in with defaults and
// environment fallbacks, and validated before use. Secrets are masked on
// the way out and masked values submitted back are substituted with the
// stored originals.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server,omitempty" json:"server,omitempty" jsonschema:"title=Server,description=HTTP server configuration"`
	LLM       LLMConfig       `yaml:"llm,omitempty" json:"llm,omitempty" jsonschema:"title=LLM,description=LLM provider configuration"`
	Agent     AgentConfig     `yaml:"agent,omitempty" json:"agent,omitempty" jsonschema:"title=Agent,description=Orchestrator limits and installer template"`
	Session   SessionConfig   `yaml:"session,omitempty" json:"session,omitempty" jsonschema:"title=Session,description=Session store configuration"`
	Knowledge KnowledgeConfig `yaml:"knowledge,omitempty" json:"knowledge,omitempty" jsonschema:"title=Knowledge,description=Library guide configuration"`
}

// AgentConfig bounds the orchestrator's recovery loops and configures the
// package installer command.
type AgentConfig struct {
	// MaxRefineAttempts caps refinement retries per step.
	MaxRefineAttempts int `yaml:"max_refine_attempts,omitempty" json:"max_refine_attempts,omitempty" jsonschema:"title=Max Refine Attempts,minimum=1,default=3"`

	// MaxReplanEvents caps replanning events per run.
	MaxReplanEvents int `yaml:"max_replan_events,omitempty" json:"max_replan_events,omitempty" jsonschema:"title=Max Replan Events,minimum=1,default=5"`

	// InstallerTemplate is the command synthesized for missing packages.
	// {package} is replaced with the pip package name.
	InstallerTemplate string `yaml:"installer_template,omitempty" json:"installer_template,omitempty" jsonschema:"title=Installer Template,default=!pip install --timeout 180 {package}"`

	// PipIndexURL, when set, is inserted as "-i <url>" into the installer
	// command for air-gapped or mirrored environments.
	PipIndexURL string `yaml:"pip_index_url,omitempty" json:"pip_index_url,omitempty" jsonschema:"title=Pip Index URL"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// StoragePath is the JSON document the store persists to.
	StoragePath string `yaml:"storage_path,omitempty" json:"storage_path,omitempty" jsonschema:"title=Storage Path,default=sessions.json"`

	// ContextLimit is the number of recent messages used to build
	// conversational context.
	ContextLimit int `yaml:"context_limit,omitempty" json:"context_limit,omitempty" jsonschema:"title=Context Limit,minimum=1,default=10"`
}

// KnowledgeConfig configures library guide loading.
type KnowledgeConfig struct {
	// GuidesDir holds one markdown guide per library.
	GuidesDir string `yaml:"guides_dir,omitempty" json:"guides_dir,omitempty" jsonschema:"title=Guides Directory"`
}

// SetDefaults applies defaults recursively.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()

	if c.Agent.MaxRefineAttempts == 0 {
		c.Agent.MaxRefineAttempts = 3
	}
	if c.Agent.MaxReplanEvents == 0 {
		c.Agent.MaxReplanEvents = 5
	}
	if c.Agent.InstallerTemplate == "" {
		c.Agent.InstallerTemplate = "!pip install --timeout 180 {package}"
	}

	if c.Session.StoragePath == "" {
		c.Session.StoragePath = "sessions.json"
	}
	if c.Session.ContextLimit == 0 {
		c.Session.ContextLimit = 10
	}
}

// Validate checks the configuration recursively.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if c.Agent.MaxRefineAttempts < 1 {
		return fmt.Errorf("agent: max_refine_attempts must be at least 1")
	}
	if c.Agent.MaxReplanEvents < 1 {
		return fmt.Errorf("agent: max_replan_events must be at least 1")
	}
	if !strings.Contains(c.Agent.InstallerTemplate, "{package}") {
		return fmt.Errorf("agent: installer_template must contain {package}")
	}
	return nil
}

// InstallCommand expands the installer template for a package, inserting the
// private index option when configured.
func (c *AgentConfig) InstallCommand(pkg string) string {
	cmd := strings.ReplaceAll(c.InstallerTemplate, "{package}", pkg)
	if c.PipIndexURL != "" {
		cmd = strings.Replace(cmd, "install", "install -i "+c.PipIndexURL, 1)
	}
	return cmd
}
