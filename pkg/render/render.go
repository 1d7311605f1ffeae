// Package render writes advice items, profiles and comment threads as plain text.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"seertix/pkg/models"
	"seertix/pkg/tree"
)

const (
	DefaultMaxDepth = 8
	timeLayout      = "2006-01-02 15:04"
)

type Options struct {
	// MaxDepth is the deepest indentation level. Deeper replies are drawn at MaxDepth and marked
	// with their real depth.
	MaxDepth int
	Indent   string
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Indent == "" {
		o.Indent = "  "
	}
	return o
}

// printer keeps the first write error and skips the following writes.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func Advice(w io.Writer, a models.Advice) error {
	p := printer{w: w}
	writeAdvice(&p, a)
	return p.err
}

func Advices(w io.Writer, list []models.Advice) error {
	p := printer{w: w}
	if len(list) == 0 {
		p.printf("No advice yet.\n")
		return p.err
	}
	for i, a := range list {
		if i > 0 {
			p.printf("\n")
		}
		writeAdvice(&p, a)
	}
	return p.err
}

func writeAdvice(p *printer, a models.Advice) {
	author := a.AuthorName
	if author == "" {
		author = "user " + a.AuthorID.String()
	}
	p.printf("Advice #%s by %s%s\n", a.ID, author, when(a.CreatedAt))
	p.printf("  %s\n", indentBody(a.Body, "  "))
}

func Profile(w io.Writer, pr models.Profile) error {
	p := printer{w: w}
	p.printf("%s <%s>\n", pr.Name, pr.Email)
	p.printf("  id: %s\n", pr.ID)
	if pr.Country != "" {
		p.printf("  country: %s\n", pr.Country)
	}
	if pr.Bio != "" {
		p.printf("  bio: %s\n", pr.Bio)
	}
	return p.err
}

// User writes a public profile followed by the user's advice items.
func User(w io.Writer, u models.PublicUser, advices []models.Advice) error {
	p := printer{w: w}
	p.printf("%s (user %s)%s\n", u.Username, u.ID, joined(u.CreatedAt))
	if u.Country != "" {
		p.printf("  country: %s\n", u.Country)
	}
	if u.Bio != "" {
		p.printf("  bio: %s\n", u.Bio)
	}
	p.printf("\n%d advice(s)\n", len(advices))
	if p.err != nil {
		return p.err
	}
	for _, a := range advices {
		writeAdvice(&p, a)
	}
	return p.err
}

// Thread writes the advice header followed by its comment forest.
func Thread(w io.Writer, a models.Advice, forest []*tree.Node, opts Options) error {
	if err := Advice(w, a); err != nil {
		return err
	}
	p := printer{w: w}
	p.printf("\n%d comment(s)\n", tree.Count(forest))
	if p.err != nil {
		return p.err
	}
	return Comments(w, forest, opts)
}

// Comments writes the forest depth-first, one indentation step per level.
func Comments(w io.Writer, forest []*tree.Node, opts Options) error {
	opts = opts.withDefaults()
	p := printer{w: w}

	tree.Walk(forest, func(n *tree.Node, depth int) bool {
		level := depth
		marker := ""
		if depth > opts.MaxDepth {
			level = opts.MaxDepth
			marker = fmt.Sprintf("[depth %d] ", depth)
		}
		pad := strings.Repeat(opts.Indent, level)

		liked := ""
		if n.LikedByViewer {
			liked = " (liked)"
		}
		author := n.AuthorName
		if author == "" {
			author = "user " + n.AuthorID.String()
		}

		p.printf("%s%s#%s %s%s | %d like(s)%s\n", pad, marker, n.ID, author, when(n.CreatedAt), n.LikeCount, liked)
		p.printf("%s  %s\n", pad, indentBody(n.Body, pad+"  "))
		return p.err == nil
	})

	return p.err
}

func when(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return " on " + t.Local().Format(timeLayout)
}

func joined(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return ", joined " + t.Local().Format("2006-01-02")
}

func indentBody(body, pad string) string {
	return strings.ReplaceAll(strings.TrimSpace(body), "\n", "\n"+pad)
}
