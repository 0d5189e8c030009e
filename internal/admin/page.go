package admin

import (
	"html/template"
	"io"
)

// Page is everything the settings page shows. Values are escaped by
// html/template for their context.
type Page struct {
	Title  string
	Action string
	Link   string
	Delay  string
	Nonce  string
	Notice string
}

var pageTmpl = template.Must(template.New("settings").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<div class="wrap">
<h1>{{.Title}}</h1>
{{- if .Notice}}
<div class="notice notice-success"><p>{{.Notice}}</p></div>
{{- end}}
<form method="post" action="{{.Action}}">
<input type="hidden" name="` + NonceField + `" value="{{.Nonce}}">
<table class="form-table">
<tr>
<th scope="row"><label for="calendly_link">Calendly Link:</label></th>
<td><input type="url" id="calendly_link" name="calendly_link" value="{{.Link}}" class="regular-text"></td>
</tr>
<tr>
<th scope="row"><label for="calendly_delay">Popup Delay (0-10 minutes):</label></th>
<td><input type="number" id="calendly_delay" name="calendly_delay" value="{{.Delay}}" min="0" max="10" step="1"></td>
</tr>
</table>
<p class="submit"><input type="submit" name="submit" class="button button-primary" value="Save Changes"></p>
</form>
</div>
</body>
</html>
`))

// Render writes the settings page. It has no side effects.
func Render(w io.Writer, p Page) error {
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	if p.Action == "" {
		p.Action = DefaultPath
	}
	return pageTmpl.Execute(w, p)
}
