// Package render renders Liquid templates for sequence steps and nudges.
package render

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/lifecycle-engine/internal/domain"
)

// Renderer parses templates once and caches them by name and content, so a
// reloaded definition never renders from a stale parse.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // cache key -> *liquid.Template
}

func New() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }} also treats "" as missing.
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

	r.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	r.engine.RegisterFilter("days_ago", func(t interface{}) int {
		ts, ok := t.(time.Time)
		if !ok || ts.IsZero() {
			return 0
		}
		return int(time.Since(ts) / (24 * time.Hour))
	})
}

func cacheKey(name, tpl string) string {
	sum := sha1.Sum([]byte(tpl))
	return name + "@" + hex.EncodeToString(sum[:8])
}

// Parse reports template syntax errors.
func (r *Renderer) Parse(tpl string) error {
	_, err := r.engine.ParseString(tpl)
	if err != nil {
		return err
	}
	return nil
}

// Render renders tpl with vars. Missing variables render empty.
func (r *Renderer) Render(name, tpl string, vars map[string]any) (string, error) {
	if tpl == "" {
		return "", nil
	}
	key := cacheKey(name, tpl)
	var t *liquid.Template
	if cached, ok := r.cache.Load(key); ok {
		t = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(tpl)
		if err != nil {
			return "", fmt.Errorf("parse template %s: %w", name, err)
		}
		r.cache.Store(key, parsed)
		t = parsed
	}
	out, err := t.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return out, nil
}

// SubjectVars is the Liquid context for sequence step templates.
func SubjectVars(s *domain.Subject) map[string]any {
	vars := map[string]any{}
	if s == nil {
		return vars
	}
	vars["subject_id"] = s.ID
	vars["first_name"] = s.FirstName
	vars["email"] = s.Email
	vars["category"] = string(s.Category)
	vars["tier"] = string(s.Tier)
	vars["assigned_resource"] = s.AssignedResource
	if s.Score != nil {
		vars["score"] = *s.Score
	}
	return vars
}
