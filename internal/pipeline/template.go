package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/CanSsever/qoder-deneme-sub000/internal/domain"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Template is the static description handed unmodified to a provider.
type Template struct {
	JobType domain.JobType
	Body    map[string]any
}

// Section returns a named sub-table, or nil.
func (t Template) Section(name string) map[string]any {
	if t.Body == nil {
		return nil
	}
	if m, ok := t.Body[name].(map[string]any); ok {
		return m
	}
	return nil
}

// String returns a top-level scalar setting as a string.
func (t Template) String(name string) string {
	if t.Body == nil {
		return ""
	}
	switch v := t.Body[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Vars builds the placeholder variables for a job. Template defaults are
// overridden by job parameters.
func (t Template) Vars(job *domain.Job) map[string]any {
	vars := map[string]any{}
	for k, v := range t.Section("defaults") {
		vars[k] = v
	}
	if job == nil {
		return vars
	}
	for k, v := range job.Params {
		vars[k] = v
	}
	vars["job_id"] = job.ID
	vars["job_type"] = string(job.Type)
	urls := make([]any, 0, len(job.InputURLs))
	for i, u := range job.InputURLs {
		vars[fmt.Sprintf("input_url_%d", i)] = u
		urls = append(urls, u)
	}
	if len(job.InputURLs) > 0 {
		vars["input_url"] = job.InputURLs[0]
	}
	vars["input_urls"] = urls
	return vars
}

// RenderSection deep-copies a section and substitutes placeholders.
func (t Template) RenderSection(name string, vars map[string]any) map[string]any {
	section := t.Section(name)
	if section == nil {
		return nil
	}
	rendered, _ := Render(section, vars).(map[string]any)
	return rendered
}

// Render returns a deep copy of v with {{name}} placeholders replaced. A
// string that is exactly one placeholder takes the variable's value and type;
// placeholders inside longer strings are formatted in place. Unknown
// placeholders are left untouched.
func Render(v any, vars map[string]any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = Render(child, vars)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = Render(child, vars)
		}
		return out
	case string:
		return renderString(node, vars)
	default:
		return node
	}
}

func renderString(s string, vars map[string]any) any {
	if m := placeholderPattern.FindStringSubmatchIndex(s); m != nil && m[0] == 0 && m[1] == len(s) {
		name := s[m[2]:m[3]]
		if value, ok := vars[name]; ok {
			return value
		}
		return s
	}
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return fmt.Sprint(value)
		}
		return match
	})
}
