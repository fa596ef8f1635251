package knowledge_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/helpdesk/internal/knowledge"
	"github.com/MrWong99/helpdesk/pkg/types"
)

func TestChunker_Split(t *testing.T) {
	t.Parallel()

	split := func(t *testing.T, c knowledge.Chunker, text string) []string {
		t.Helper()
		got, err := c.Split(text)
		if err != nil {
			t.Fatalf("Split: %v", err)
		}
		return got
	}

	t.Run("short text is one chunk", func(t *testing.T) {
		t.Parallel()
		got := split(t, knowledge.Chunker{Size: 100, Overlap: 20}, "  hello world  ")
		if len(got) != 1 || got[0] != "hello world" {
			t.Errorf("Split = %q", got)
		}
	})

	t.Run("blank text is one empty chunk", func(t *testing.T) {
		t.Parallel()
		got := split(t, knowledge.DefaultChunker(), "   ")
		if len(got) != 1 || got[0] != "" {
			t.Errorf("Split = %q", got)
		}
	})

	t.Run("breaks between sentences and overlaps", func(t *testing.T) {
		t.Parallel()
		sentence := "The quick brown fox jumps over the lazy dog. "
		text := strings.Repeat(sentence, 20)
		got := split(t, knowledge.Chunker{Size: 200, Overlap: 50}, text)
		if len(got) < 4 {
			t.Fatalf("len = %d, want several chunks", len(got))
		}
		for i, ch := range got {
			if n := len([]rune(ch)); n > 200 {
				t.Errorf("chunk %d has %d runes", i, n)
			}
			if !strings.HasPrefix(ch, "The quick") {
				t.Errorf("chunk %d does not start on a sentence: %q", i, ch)
			}
			if end := strings.TrimSuffix(ch, "."); !strings.HasSuffix(end, "lazy dog") {
				t.Errorf("chunk %d does not end on a sentence: %q", i, ch)
			}
		}
		tail := got[0][len(got[0])-20:]
		if !strings.Contains(got[1], tail) {
			t.Errorf("chunk 1 does not overlap chunk 0; tail %q", tail)
		}
	})

	t.Run("paragraphs stay together", func(t *testing.T) {
		t.Parallel()
		para := strings.Repeat("word ", 15)
		text := para + "\n\n" + para + "\n\n" + para
		got := split(t, knowledge.Chunker{Size: 100, Overlap: 0}, text)
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3: %q", len(got), got)
		}
		for i, ch := range got {
			if ch != strings.TrimSpace(para) {
				t.Errorf("chunk %d = %q", i, ch)
			}
		}
	})

	t.Run("unbroken text terminates", func(t *testing.T) {
		t.Parallel()
		text := strings.Repeat("x", 1000)
		got := split(t, knowledge.Chunker{Size: 100, Overlap: 99}, text)
		if len(got) == 0 || len(got) > 1000 {
			t.Fatalf("len = %d", len(got))
		}
		for i, ch := range got {
			if len(ch) > 100 {
				t.Errorf("chunk %d has %d runes", i, len(ch))
			}
		}
		if !strings.HasSuffix(text, got[len(got)-1]) {
			t.Error("last chunk is not the tail of the input")
		}
	})
}

func TestSplitMarkdown(t *testing.T) {
	t.Parallel()

	md := "Intro line\n\n# Accounts\n\n## Password Reset\nUse the portal.\nThen sign in.\n### Detail\nstill reset\n# Network\nVPN text\n"
	got := knowledge.SplitMarkdown(md)
	want := []knowledge.Section{
		{Title: "General", Body: "Intro line"},
		{Title: "Accounts", Body: ""},
		{Title: "Password Reset", Body: "Use the portal.\nThen sign in.\n### Detail\nstill reset"},
		{Title: "Network", Body: "VPN text"},
	}
	if len(got) != len(want) {
		t.Fatalf("sections = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	noIntro := knowledge.SplitMarkdown("\n# Only\nbody")
	if len(noIntro) != 1 || noIntro[0].Title != "Only" {
		t.Errorf("SplitMarkdown without intro = %+v", noIntro)
	}
}

func TestCorpus_IDs(t *testing.T) {
	t.Parallel()

	c := knowledge.NewCorpus(knowledge.DefaultChunker())
	a, err := c.Add(types.KnowledgeChunk{Source: types.SourceKnowledgeBase, Text: "a"})
	if err != nil || a.ID != 1 {
		t.Fatalf("first auto id = %d, %v", a.ID, err)
	}
	if _, err := c.Add(types.KnowledgeChunk{Source: types.SourceKnowledgeBase, ID: 5, Text: "b"}); err != nil {
		t.Fatal(err)
	}
	next, _ := c.Add(types.KnowledgeChunk{Source: types.SourceKnowledgeBase, Text: "c"})
	if next.ID != 6 {
		t.Errorf("auto id after explicit 5 = %d, want 6", next.ID)
	}
	other, _ := c.Add(types.KnowledgeChunk{Source: types.SourceCompanyPolicies, Text: "d"})
	if other.ID != 1 {
		t.Errorf("ids are not per source: got %d", other.ID)
	}
	if _, err := c.Add(types.KnowledgeChunk{Source: types.SourceKnowledgeBase, ID: 5}); err == nil {
		t.Error("duplicate id accepted")
	}
	if _, err := c.Add(types.KnowledgeChunk{Source: "wiki", Text: "x"}); err == nil {
		t.Error("unknown source accepted")
	}
	if c.Len() != 4 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	c, err := knowledge.Load(knowledge.DefaultChunker(), true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	all := c.Chunks()
	idx := knowledge.Indexable(all)
	if len(idx) >= len(all) {
		t.Errorf("default corpus should contain a blank header chunk: %d indexable of %d", len(idx), len(all))
	}
	for _, ch := range idx {
		if strings.TrimSpace(ch.Text) == "" {
			t.Errorf("Indexable kept blank chunk %+v", ch)
		}
	}

	var found bool
	for _, ch := range all {
		if ch.Source == types.SourceTroubleshootingDB && ch.Section == "Password reset" {
			found = true
			if !strings.Contains(ch.Text, "Issue: Password reset") || !strings.Contains(ch.Text, "1. If you forgot your password") {
				t.Errorf("troubleshooting text = %q", ch.Text)
			}
		}
	}
	if !found {
		t.Error("password reset troubleshooting chunk missing")
	}
}

func TestAddDocument_Markdown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "kb.md")
	if err := os.WriteFile(path, []byte("# Printers\nRelease jobs with your badge.\n## Scanners\nScan to email.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := knowledge.Load(knowledge.DefaultChunker(), false, knowledge.Document{Path: path, Source: types.SourceKnowledgeBase})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := c.Chunks()
	if len(got) != 2 || got[1].Section != "Scanners" || got[1].ID != 2 {
		t.Errorf("chunks = %+v", got)
	}

	if _, err := knowledge.Load(knowledge.DefaultChunker(), false, knowledge.Document{Path: path, Source: "wiki"}); err == nil {
		t.Error("unknown source accepted")
	}
	if _, err := knowledge.Load(knowledge.DefaultChunker(), false, knowledge.Document{Path: filepath.Join(dir, "missing.md"), Source: types.SourceKnowledgeBase}); err == nil {
		t.Error("missing file accepted")
	}
}

func TestDecodeFile_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := knowledge.DecodeFile(strings.NewReader("chunks:\n  - source: knowledge_base\n    body: x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	for path, want := range map[string]string{
		"a.md": "markdown", "b.PDF": "pdf", "c.yml": "yaml", "d.txt": "text",
	} {
		if got := knowledge.DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", path, got, want)
		}
	}
}
