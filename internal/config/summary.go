package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// masked replaces a secret-class value in rendered output.
const masked = "********"

var (
	summaryTitleStyle = lipgloss.NewStyle().Bold(true)
	summaryKeyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	warningStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Summary renders the resolved key/value pairs for the operator. Secret-class
// values are masked; they are never written to any non-secret output channel.
// Styled output is used on interactive terminals, plain text otherwise.
func Summary(values map[string]string, warnings []string) string {
	keys := make([]string, 0, len(values))
	width := 0
	for k := range values {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)

	styled := isInteractiveTTY()
	var b strings.Builder

	title := "Resolved configuration"
	if styled {
		title = summaryTitleStyle.Render(title)
	}
	b.WriteString(title + "\n")

	for _, k := range keys {
		v := values[k]
		if IsSecretKey(k) && v != "" {
			v = masked
		}
		name := fmt.Sprintf("%-*s", width, k)
		if styled {
			name = summaryKeyStyle.Render(name)
		}
		fmt.Fprintf(&b, "  %s  %s\n", name, v)
	}

	for _, w := range warnings {
		line := "  warning: " + w
		if styled {
			line = warningStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}

// isInteractiveTTY checks if stdout is an interactive terminal.
func isInteractiveTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}
