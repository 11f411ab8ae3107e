package bundler

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

const bannerTemplate = `/*!
 * ====================================================
 * {{ .Project.DisplayName }} - v{{ .Project.Version }} - {{ .Date }}
{{- if .Project.Homepage }}
 * {{ .Project.Homepage }}
{{- end }}
 * GitHub: {{ .Project.Repository }} 
 * Copyright (c) {{ .Year }} {{ .Project.Author }}; Licensed {{ .Licenses }}
 * ====================================================
 */

`

var banner = template.Must(template.New("banner").Parse(bannerTemplate))

type bannerData struct {
	Project  *Project
	Date     string
	Year     string
	Licenses string
}

// RenderBanner renders the license/version comment placed at the top of the bundle.
func RenderBanner(p *Project, date time.Time) (string, error) {
	if p == nil {
		p = &Project{}
	}
	date = date.UTC()
	data := bannerData{
		Project:  p,
		Date:     date.Format("2006-01-02"),
		Year:     date.Format("2006"),
		Licenses: strings.Join(p.Licenses, ", "),
	}
	var buf bytes.Buffer
	if err := banner.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render banner: %w", err)
	}
	return buf.String(), nil
}
