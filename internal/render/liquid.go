// Package render merges recipient merge contexts into email templates using
// the Liquid template language.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"net/url"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/audience-engine/internal/domain"
)

// Renderer renders subject, HTML and text bodies. Parsed templates are
// cached by content hash so edits are picked up without invalidation.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a Renderer with the merge-field filters templates use.
func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}

	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if s == "" {
			return s
		}
		return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
	})
	r.engine.RegisterFilter("urlencode", url.QueryEscape)
	r.engine.RegisterFilter("escape", html.EscapeString)
	return r
}

// Render implements sending.Renderer. Missing variables render empty.
func (r *Renderer) Render(tpl *domain.EmailTemplate, vars map[string]string) (string, string, string, error) {
	bindings := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}
	subject, err := r.renderString(tpl.Subject, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("subject: %w", err)
	}
	body, err := r.renderString(tpl.HTML, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("html: %w", err)
	}
	text, err := r.renderString(tpl.Text, bindings)
	if err != nil {
		return "", "", "", fmt.Errorf("text: %w", err)
	}
	return subject, body, text, nil
}

// Validate parses a template without rendering it.
func (r *Renderer) Validate(tpl *domain.EmailTemplate) error {
	for _, src := range []string{tpl.Subject, tpl.HTML, tpl.Text} {
		if _, err := r.parse(src); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) renderString(src string, bindings map[string]interface{}) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := r.parse(src)
	if err != nil {
		return "", err
	}
	out, serr := t.RenderString(bindings)
	if serr != nil {
		return "", serr
	}
	return out, nil
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	sum := sha256.Sum256([]byte(src))
	key := hex.EncodeToString(sum[:])
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*liquid.Template), nil
	}
	t, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Store(key, t)
	return t, nil
}
