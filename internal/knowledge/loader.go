package knowledge

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/helpdesk/pkg/types"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// File is the structured corpus format. All three lists are optional.
//
//	chunks:
//	  - source: knowledge_base
//	    section: VPN Access
//	    text: Connect to vpn.techcorp.com with your SSO credentials.
//	troubleshooting:
//	  - issue: Password reset
//	    category: password_reset
//	    steps: [...]
//	installation_guides:
//	  - software: zoom
//	    title: Installing Zoom
//	    steps: [...]
type File struct {
	Chunks             []types.KnowledgeChunk `yaml:"chunks"`
	Troubleshooting    []TroubleshootingEntry `yaml:"troubleshooting"`
	InstallationGuides []InstallationGuide    `yaml:"installation_guides"`
}

// TroubleshootingEntry is one issue of the troubleshooting database.
type TroubleshootingEntry struct {
	Issue             string   `yaml:"issue"`
	Category          string   `yaml:"category"`
	Steps             []string `yaml:"steps"`
	EscalationTrigger string   `yaml:"escalation_trigger"`
	EscalationContact string   `yaml:"escalation_contact"`
}

// Text renders the entry as one retrievable passage.
func (e TroubleshootingEntry) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Issue: %s\nCategory: %s\n\nSteps:\n", e.Issue, e.Category)
	writeSteps(&b, e.Steps)
	if e.EscalationTrigger != "" {
		fmt.Fprintf(&b, "\nEscalation Trigger: %s", e.EscalationTrigger)
	}
	if e.EscalationContact != "" {
		fmt.Fprintf(&b, "\nEscalation Contact: %s", e.EscalationContact)
	}
	return b.String()
}

// InstallationGuide describes how to install one piece of software.
type InstallationGuide struct {
	Software     string        `yaml:"software"`
	Title        string        `yaml:"title"`
	Steps        []string      `yaml:"steps"`
	CommonIssues []CommonIssue `yaml:"common_issues"`
}

// CommonIssue is a known installation problem and its fix.
type CommonIssue struct {
	Issue    string `yaml:"issue"`
	Solution string `yaml:"solution"`
}

// Text renders the guide as one retrievable passage.
func (g InstallationGuide) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Software: %s\nTitle: %s\n\nInstallation Steps:\n", g.Software, g.Title)
	writeSteps(&b, g.Steps)
	if len(g.CommonIssues) > 0 {
		b.WriteString("\nCommon Issues:\n")
		for _, ci := range g.CommonIssues {
			fmt.Fprintf(&b, "Issue: %s\nSolution: %s\n", ci.Issue, ci.Solution)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSteps(b *strings.Builder, steps []string) {
	for i, s := range steps {
		fmt.Fprintf(b, "%d. %s\n", i+1, s)
	}
}

// DecodeFile parses the structured corpus format from r, rejecting unknown keys.
func DecodeFile(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("knowledge: decode yaml: %w", err)
	}
	return &f, nil
}

// AddFile adds every chunk of f to the corpus. Explicit chunks are added as
// given; troubleshooting entries and installation guides become one chunk
// each, split further only if they exceed the chunk size.
func (c *Corpus) AddFile(f *File) error {
	for _, ch := range f.Chunks {
		if _, err := c.Add(ch); err != nil {
			return err
		}
	}
	for _, e := range f.Troubleshooting {
		if err := c.AddText(types.SourceTroubleshootingDB, e.Issue, e.Text()); err != nil {
			return err
		}
	}
	for _, g := range f.InstallationGuides {
		section := g.Title
		if section == "" {
			section = g.Software
		}
		if err := c.AddText(types.SourceInstallationGuides, section, g.Text()); err != nil {
			return err
		}
	}
	return nil
}

// AddMarkdown splits a markdown document by headers and adds its sections
// under source.
func (c *Corpus) AddMarkdown(source types.Source, content string) error {
	for _, s := range SplitMarkdown(content) {
		if err := c.AddText(source, s.Title, s.Body); err != nil {
			return err
		}
	}
	return nil
}

// Document is one knowledge file to ingest.
type Document struct {
	Path   string
	Source types.Source

	// Format is "markdown", "pdf", "text" or "yaml". Empty selects by extension.
	Format string
}

// DetectFormat maps a file extension to a Document format.
func DetectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".pdf":
		return "pdf"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "text"
	}
}

// AddDocument reads and ingests one document.
func (c *Corpus) AddDocument(doc Document) error {
	format := doc.Format
	if format == "" {
		format = DetectFormat(doc.Path)
	}
	if format != "yaml" && !doc.Source.Valid() {
		return fmt.Errorf("knowledge: %s: unknown source %q", doc.Path, doc.Source)
	}

	switch format {
	case "pdf":
		text, err := ExtractPDF(doc.Path)
		if err != nil {
			return err
		}
		return c.AddText(doc.Source, strings.TrimSuffix(filepath.Base(doc.Path), filepath.Ext(doc.Path)), text)
	case "yaml":
		fh, err := os.Open(doc.Path)
		if err != nil {
			return fmt.Errorf("knowledge: open %q: %w", doc.Path, err)
		}
		defer fh.Close()
		f, err := DecodeFile(fh)
		if err != nil {
			return fmt.Errorf("knowledge: %s: %w", doc.Path, err)
		}
		return c.AddFile(f)
	case "markdown", "text":
		raw, err := os.ReadFile(doc.Path)
		if err != nil {
			return fmt.Errorf("knowledge: read %q: %w", doc.Path, err)
		}
		if format == "markdown" {
			return c.AddMarkdown(doc.Source, string(raw))
		}
		return c.AddText(doc.Source, filepath.Base(doc.Path), string(raw))
	default:
		return fmt.Errorf("knowledge: %s: unsupported format %q", doc.Path, format)
	}
}

// AddDefaults ingests the built-in corpus.
func (c *Corpus) AddDefaults() error {
	f, err := DecodeFile(bytes.NewReader(defaultsYAML))
	if err != nil {
		return fmt.Errorf("knowledge: built-in corpus: %w", err)
	}
	return c.AddFile(f)
}

// Load builds a corpus from docs, preceded by the built-in corpus when
// withDefaults is set.
func Load(chunker Chunker, withDefaults bool, docs ...Document) (*Corpus, error) {
	c := NewCorpus(chunker)
	if withDefaults {
		if err := c.AddDefaults(); err != nil {
			return nil, err
		}
	}
	for _, d := range docs {
		if err := c.AddDocument(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}
