package history

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// excerptRenderer converts result-page HTML into the markdown excerpt
// stored alongside each history entry. The table plugin matters: the
// portal's result is a DataTable and loses all structure as plain text.
type excerptRenderer struct {
	conv *converter.Converter
}

func newExcerptRenderer() *excerptRenderer {
	return &excerptRenderer{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// render converts HTML to markdown, capped at maxExcerptLen. Conversion
// failures degrade to an empty excerpt.
func (r *excerptRenderer) render(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	md, err := r.conv.ConvertString(rawHTML)
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if len(md) > maxExcerptLen {
		md = md[:maxExcerptLen]
	}
	return md
}
