package rules

import (
	"math"
	"strconv"

	"github.com/xkilldash9x/shotprep/internal/browser/dom"
)

// inlineBackup holds the inline values of a set of properties so they can be
// written back verbatim, including the unset case.
type inlineBackup struct {
	el    *dom.Element
	props []string
	vals  []string
}

func backupInline(el *dom.Element, props ...string) *inlineBackup {
	b := &inlineBackup{el: el, props: props, vals: make([]string, len(props))}
	for i, p := range props {
		b.vals[i] = el.StyleProperty(p)
	}
	return b
}

func (b *inlineBackup) restore() {
	for i := len(b.props) - 1; i >= 0; i-- {
		b.el.SetStyleProperty(b.props[i], b.vals[i])
	}
}

// important sets an inline declaration that wins over author stylesheets.
func important(el *dom.Element, prop, value string) {
	el.SetStyleProperty(prop, value+" !important")
}

func px(v float64) string {
	return strconv.FormatFloat(math.Ceil(v), 'f', -1, 64) + "px"
}
