package bundler

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Project is the subset of package.json rendered into the banner.
type Project struct {
	Name       string
	Title      string
	Version    string
	Homepage   string
	Repository string
	Author     string
	Licenses   []string
}

// DisplayName prefers the title over the package name.
func (p *Project) DisplayName() string {
	if p.Title != "" {
		return p.Title
	}
	return p.Name
}

type packageJSON struct {
	Name       string          `json:"name"`
	Title      string          `json:"title"`
	Version    string          `json:"version"`
	Homepage   string          `json:"homepage"`
	Repository json.RawMessage `json:"repository"`
	Author     json.RawMessage `json:"author"`
	License    json.RawMessage `json:"license"`
	Licenses   json.RawMessage `json:"licenses"`
}

// LoadProject reads banner metadata from a package.json file.
func LoadProject(path string) (*Project, error) {
	// #nosec G304 - path comes from the build configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project metadata: %w", err)
	}
	return ParseProject(data)
}

// ParseProject decodes package.json content. repository, author and license
// fields accept both the string and the object forms npm allows.
func ParseProject(data []byte) (*Project, error) {
	var raw packageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse project metadata: %w", err)
	}
	p := &Project{
		Name:     raw.Name,
		Title:    raw.Title,
		Version:  raw.Version,
		Homepage: raw.Homepage,
	}
	p.Repository = stringOrField(raw.Repository, "url")
	p.Author = stringOrField(raw.Author, "name")
	if l := stringOrField(raw.License, "type"); l != "" {
		p.Licenses = append(p.Licenses, l)
	}
	if len(raw.Licenses) > 0 {
		var list []json.RawMessage
		if err := json.Unmarshal(raw.Licenses, &list); err != nil {
			return nil, fmt.Errorf("parse project licenses: %w", err)
		}
		for _, item := range list {
			if l := stringOrField(item, "type"); l != "" {
				p.Licenses = append(p.Licenses, l)
			}
		}
	}
	return p, nil
}

func stringOrField(raw json.RawMessage, field string) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if v, ok := obj[field].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
