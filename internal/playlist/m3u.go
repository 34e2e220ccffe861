// SPDX-License-Identifier: MIT
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// M3UItem is one exported playlist line.
type M3UItem struct {
	Name     string
	Group    string
	Duration int // seconds; -1 when unknown
	URL      string
}

// WriteM3U writes items as an extended M3U document.
func WriteM3U(w io.Writer, items []M3UItem) error {
	buf := &bytes.Buffer{}
	buf.WriteString("#EXTM3U\n")
	for _, it := range items {
		fmt.Fprintf(buf, `#EXTINF:%d group-title="%s",%s`+"\n",
			it.Duration, escapeAttr(it.Group), strings.ReplaceAll(it.Name, "\n", " "))
		buf.WriteString(it.URL + "\n")
	}
	_, err := io.Copy(w, buf)
	return err
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`"`, "'", "\n", " ").Replace(s)
}

// M3UItems maps the playlist to export lines. urlFor builds the image URL of
// an asset ID; every slide lasts slideSeconds.
func (p *Playlist) M3UItems(slideSeconds int, urlFor func(id string) string) []M3UItem {
	out := make([]M3UItem, 0, p.Len())
	for _, a := range p.items {
		out = append(out, M3UItem{
			Name:     path.Base(a.Path),
			Group:    a.SourceID,
			Duration: slideSeconds,
			URL:      urlFor(a.ID()),
		})
	}
	return out
}
