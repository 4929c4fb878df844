// Package banner prints the serve startup header.
package banner

import (
	"fmt"
	"io"
	"strings"
)

const art = `
  __            _ _
 / _| ___  _ __| | |_ __ ___
| |_ / _ \| '__| | | '_ ` + "`" + ` _ \
|  _| (_) | |  | | | | | | | |
|_|  \___/|_|  |_|_|_| |_| |_|
`

// Info is the runtime summary shown under the art.
type Info struct {
	Version  string
	Store    string
	Provider string
	Model    string
}

// Startup writes the art followed by the version and store/model lines.
// Color is only used when color is true.
func Startup(w io.Writer, info Info, color bool) {
	for _, line := range splitLines(art) {
		fmt.Fprintln(w, line)
	}
	version := "forllm " + info.Version
	if color {
		version = "\033[36m" + version + "\033[0m"
	}
	fmt.Fprintf(w, "  %s\n", version)
	fmt.Fprintf(w, "  store %s  model %s/%s\n", info.Store, info.Provider, info.Model)
}

func splitLines(s string) []string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
