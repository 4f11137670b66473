package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Quote wraps s in single quotes for a POSIX shell
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ListCommand lists regular files under root, pruning excluded directories
func (p *Policy) ListCommand(root string) string {
	return fmt.Sprintf("find %s -type f%s 2>/dev/null", Quote(root), p.excludeArgs())
}

// FindCommand lists files under root whose name matches a find(1) -name pattern
func (p *Policy) FindCommand(root, pattern string) string {
	return fmt.Sprintf("find %s -type f -name %s%s 2>/dev/null", Quote(root), Quote(pattern), p.excludeArgs())
}

// ReadCommand prints a file
func ReadCommand(filePath string) string {
	return "cat -- " + Quote(filePath)
}

// LogsCommand prints the last lines of a systemd unit's journal
func LogsCommand(service string, lines int) string {
	if lines <= 0 {
		lines = 50
	}
	return fmt.Sprintf("journalctl -u %s -n %d --no-pager", Quote(service), lines)
}

func (p *Policy) excludeArgs() string {
	dirs := make([]string, 0, len(p.excluded))
	for d := range p.excluded {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	var b strings.Builder
	for _, d := range dirs {
		b.WriteString(" -not -path ")
		b.WriteString(Quote("*/" + d + "/*"))
	}
	return b.String()
}
