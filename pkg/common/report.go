// ///////////////////////////////////////////////////////////////////////////
//
// # TableHash - Merkle digests for sorted tables
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/tablehash/pkg/logger"
	"github.com/pgedge/tablehash/pkg/types"
)

const (
	CheckMark = "✔"
	CrossMark = "✘"
)

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Left}} vs {{.Right}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: left; }
th { background: #f3f3f3; }
td.key { font-family: monospace; }
.match { color: #2a7d2a; }
.mismatch { color: #b22222; }
</style>
</head>
<body>
<h1>{{.Left}} vs {{.Right}}</h1>
<table>
{{range .Summary}}<tr><th>{{.Label}}</th><td>{{.Value}}</td></tr>
{{end}}</table>
{{if .Ranges}}
<h2 class="mismatch">{{.Mark}} Divergent ranges</h2>
<table>
<tr><th>#</th><th>Start</th><th>End</th><th>Range</th></tr>
{{range $i, $r := .Ranges}}<tr><td>{{$r.Index}}</td><td class="key">{{$r.Start}}</td><td class="key">{{$r.End}}</td><td class="key">{{$r.Text}}</td></tr>
{{end}}</table>
{{else}}
<h2 class="match">{{.Mark}} Trees match</h2>
{{end}}
<script type="application/json" id="divergence">{{.RawJSON}}</script>
</body>
</html>
`

var htmlReport = template.Must(template.New("divergence").Parse(reportTemplate))

type summaryItem struct {
	Label string
	Value string
}

type rangeRow struct {
	Index int
	Start string
	End   string
	Text  string
}

// WriteDivergenceReport writes out as <left>_<right>_diffs-<ts>.json in
// dir, with an HTML rendering beside it. Nothing is written when the trees
// match. It returns the JSON path.
func WriteDivergenceReport(out types.DivergenceOutput, dir string) (string, error) {
	if len(out.Ranges) == 0 {
		logger.Info("%s %s and %s MATCH", CheckMark, out.Left, out.Right)
		return "", nil
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory %s: %w", dir, err)
	}

	jsonPath := filepath.Join(dir, fmt.Sprintf("%s_%s_diffs-%s.json",
		fileSafe(out.Left), fileSafe(out.Right), time.Now().Format("20060102150405")))

	jsonData, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal divergence: %w", err)
	}
	if err := os.WriteFile(jsonPath, jsonData, 0o644); err != nil {
		return "", fmt.Errorf("failed to write divergence file: %w", err)
	}

	htmlPath := strings.TrimSuffix(jsonPath, filepath.Ext(jsonPath)) + ".html"
	page, err := renderHTML(out, jsonData)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(htmlPath, page, 0o644); err != nil {
		return "", fmt.Errorf("failed to write html report: %w", err)
	}

	logger.Warn("%s %s and %s DO NOT MATCH: %d divergent ranges", CrossMark, out.Left, out.Right, len(out.Ranges))
	logger.Info("Divergence report written to %s", jsonPath)
	return jsonPath, nil
}

func renderHTML(out types.DivergenceOutput, rawJSON []byte) ([]byte, error) {
	rows := make([]rangeRow, len(out.Ranges))
	for i, r := range out.Ranges {
		rows[i] = rangeRow{Index: i + 1, Start: boundString(r.Start), End: boundString(r.End), Text: r.String()}
	}
	mark := CheckMark
	if len(rows) > 0 {
		mark = CrossMark
	}
	data := struct {
		Left    string
		Right   string
		Mark    string
		Summary []summaryItem
		Ranges  []rangeRow
		RawJSON template.JS
	}{
		Left:  out.Left,
		Right: out.Right,
		Mark:  mark,
		Summary: []summaryItem{
			{Label: "Algorithm", Value: out.Algorithm},
			{Label: "Divergent Ranges", Value: formatInt64WithCommas(int64(len(rows)))},
			{Label: "Generated", Value: time.Now().Format("02 Jan 2006 15:04:05 MST")},
		},
		Ranges:  rows,
		RawJSON: template.JS(rawJSON),
	}

	var buf bytes.Buffer
	if err := htmlReport.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render html report: %w", err)
	}
	return buf.Bytes(), nil
}

func boundString(b []byte) string {
	if b == nil {
		return "unbounded"
	}
	return strconv.Quote(string(b))
}

func fileSafe(name string) string {
	return strings.NewReplacer(".", "_", "/", "_", string(os.PathSeparator), "_").Replace(name)
}

func formatInt64WithCommas(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}

	s := strconv.FormatInt(value, 10)
	n := len(s)
	if n <= 3 {
		return sign + s
	}

	var builder strings.Builder
	remainder := n % 3
	if remainder == 0 {
		remainder = 3
	}
	builder.WriteString(s[:remainder])
	for i := remainder; i < n; i += 3 {
		builder.WriteString(",")
		builder.WriteString(s[i : i+3])
	}
	return sign + builder.String()
}
