package importer

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML block Obsidian-style vaults prepend to notes.
// Only the fields the note store understands are read; everything else
// is ignored.
type frontMatter struct {
	Title string   `yaml:"title"`
	Tags  []string `yaml:"tags"`
}

// splitFrontMatter separates a leading YAML front matter block from the
// note body. The block must start at the first line with "---" and end
// with a matching "---" line. Files without a block, or with one that
// does not parse, come back with empty metadata and the content
// untouched.
func splitFrontMatter(content string) (frontMatter, string) {
	var meta frontMatter

	rest, found := strings.CutPrefix(content, "---\n")
	if !found {
		if rest, found = strings.CutPrefix(content, "---\r\n"); !found {
			return meta, content
		}
	}

	block, body, found := cutDelimiter(rest)
	if !found {
		return meta, content
	}

	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return frontMatter{}, content
	}
	return meta, body
}

// cutDelimiter splits at the first line that is exactly "---".
func cutDelimiter(s string) (before, after string, found bool) {
	offset := 0
	for {
		idx := strings.Index(s[offset:], "\n---")
		if idx < 0 {
			return "", "", false
		}
		end := offset + idx + len("\n---")
		tail := s[end:]
		switch {
		case tail == "":
			return s[:offset+idx+1], "", true
		case strings.HasPrefix(tail, "\n"):
			return s[:offset+idx+1], tail[1:], true
		case strings.HasPrefix(tail, "\r\n"):
			return s[:offset+idx+1], tail[2:], true
		}
		offset = end
	}
}
