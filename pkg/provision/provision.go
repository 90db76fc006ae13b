// Package provision discovers agents in a template package directory and
// maps them onto host agent names, so runtimes can be constructed for the
// provisioned set and an integration report rendered.
package provision

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cloudflair/agentlink/pkg/errors"
	"github.com/cloudflair/agentlink/pkg/playbook"
)

const (
	agentSuffix      = ".agent.yaml"
	agentsSubdir     = "agents"
	playbooksSubdir  = "playbooks"
	individualSubdir = "individual"
)

// Mapping translates template agent names to host agent names. Template
// agents without an entry are skipped.
type Mapping map[string]string

// DefaultMapping covers the standard template package lineup.
func DefaultMapping() Mapping {
	return Mapping{
		"content":   "ContentAgent",
		"security":  "SecurityAgent",
		"ops":       "OpsAgent",
		"finance":   "FinanceAgent",
		"marketing": "MarketingAgent",
		"sales":     "SalesAgent",
		"cs":        "CommunityAgent",
	}
}

// Agent is one provisioned template agent.
type Agent struct {
	TemplateName  string
	HostName      string
	Capabilities  int
	PlaybookCount int
	Path          string
	PlaybookDir   string
}

// Catalog returns a playbook catalog over the agent's playbook directory.
func (a Agent) Catalog() *playbook.Catalog {
	return playbook.NewCatalog(a.PlaybookDir)
}

type agentDoc struct {
	Name         string           `yaml:"name"`
	Capabilities map[string][]any `yaml:"capabilities"`
}

// Discover scans root for template agents and applies the mapping. The
// expected layout is agents/<name>.agent.yaml plus
// playbooks/individual/<name>/*.yaml per agent. Agents are returned sorted
// by host name.
func Discover(ctx context.Context, root string, mapping Mapping) ([]Agent, error) {
	if mapping == nil {
		mapping = DefaultMapping()
	}
	agentsDir := filepath.Join(root, agentsSubdir)
	dirEntries, err := os.ReadDir(agentsDir)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "template package has no agents directory", err).
			WithContext("path", agentsDir)
	}

	var agents []Agent
	for _, entry := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(errors.CodeContextLost, "discovery interrupted", err)
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), agentSuffix) {
			continue
		}
		templateName := strings.TrimSuffix(entry.Name(), agentSuffix)
		hostName, ok := mapping[templateName]
		if !ok {
			continue
		}

		path := filepath.Join(agentsDir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New(errors.CodeInternal, "read agent template", err).
				WithContext("path", path)
		}
		var doc agentDoc
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, errors.New(errors.CodeMalformedDefinition, "agent template is not valid YAML", err).
				WithContext("path", path)
		}

		playbookDir := filepath.Join(root, playbooksSubdir, individualSubdir, templateName)
		agents = append(agents, Agent{
			TemplateName:  templateName,
			HostName:      hostName,
			Capabilities:  countCapabilities(doc.Capabilities),
			PlaybookCount: countPlaybooks(playbookDir),
			Path:          path,
			PlaybookDir:   playbookDir,
		})
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].HostName < agents[j].HostName })
	return agents, nil
}

func countCapabilities(caps map[string][]any) int {
	total := 0
	for _, list := range caps {
		total += len(list)
	}
	return total
}

func countPlaybooks(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			count++
		}
	}
	return count
}
