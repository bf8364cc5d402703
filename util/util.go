package util

import (
	"bytes"
	"os"
	"os/exec"
	"os/user"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/pkg/errors"
)

// Data is a generic map type for template rendering context.
type Data map[string]interface{}

// Render executes the given template with the provided variables.
func Render(tmpl *template.Template, variables Data) (string, error) {
	var buf strings.Builder
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", errors.Wrap(err, "failed to render template")
	}
	return buf.String(), nil
}

// RenderString parses and executes the given template string with the
// provided variables. Missing keys are an error: a task referencing an
// undefined variable should fail loudly, not silently expand to "<no value>".
func RenderString(tmplStr string, variables Data) (string, error) {
	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", errors.Wrap(err, "failed to parse template string")
	}
	return Render(tmpl, variables)
}

// RenderValue renders template syntax inside an arbitrary parameter value.
// Strings are rendered; maps and slices are walked recursively; other types
// pass through unchanged.
func RenderValue(v interface{}, variables Data) (interface{}, error) {
	switch tv := v.(type) {
	case string:
		if !strings.Contains(tv, "{{") {
			return tv, nil
		}
		return RenderString(tv, variables)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tv))
		for k, inner := range tv {
			rendered, err := RenderValue(inner, variables)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to render value for key %q", k)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(tv))
		for i, inner := range tv {
			rendered, err := RenderValue(inner, variables)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// IsTruthy reports whether a rendered conditional output counts as true.
// Accepted: "true", "yes", "1" (any case). Everything else, including the
// empty string, is false.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1":
		return true
	default:
		return false
	}
}

var (
	homeDir     string
	homeDirErr  error
	homeDirOnce sync.Once
)

// Home returns the home directory for the current user, caching the result.
func Home() (string, error) {
	homeDirOnce.Do(func() {
		u, err := user.Current()
		if err == nil && u.HomeDir != "" {
			homeDir = u.HomeDir
			return
		}
		if home := os.Getenv("HOME"); home != "" {
			homeDir = home
			return
		}
		var stdout bytes.Buffer
		cmd := exec.Command("sh", "-c", "eval echo ~$USER")
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			homeDirErr = errors.Wrap(err, "failed to resolve home directory via shell")
			return
		}
		result := strings.TrimSpace(stdout.String())
		if result == "" {
			homeDirErr = errors.New("blank output when reading home directory via shell")
			return
		}
		homeDir = result
	})
	return homeDir, homeDirErr
}

// ContainsString checks if a slice of strings contains the given string.
func ContainsString(slice []string, str string) bool {
	for _, item := range slice {
		if item == str {
			return true
		}
	}
	return false
}

// UniqueStrings returns the unique strings from the input slice, preserving
// the order of first appearance.
func UniqueStrings(slice []string) []string {
	if len(slice) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(slice))
	result := make([]string, 0, len(slice))
	for _, str := range slice {
		if _, ok := seen[str]; !ok {
			seen[str] = struct{}{}
			result = append(result, str)
		}
	}
	return result
}

// FirstNonEmpty returns the first non-empty string from a list of strings.
func FirstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}

// SortedKeys returns the keys of a string-keyed map in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MergeVars merges variable maps left to right; later maps win. The inputs
// are not modified.
func MergeVars(layers ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
