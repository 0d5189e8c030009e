package widget

import (
	"bytes"
	"encoding/json"
	"html/template"
	"strconv"
)

// JSString escapes s for use as a JavaScript string literal inside a
// <script> element. The result includes the surrounding quotes; '<', '>',
// '&', U+2028 and U+2029 are \u-escaped so the literal cannot close the
// script element or break the line.
func JSString(s string) template.JS {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(true)
	// Encoding a string never fails.
	_ = enc.Encode(s)
	return template.JS(bytes.TrimRight(buf.Bytes(), "\n"))
}

// JSInt renders n as a JavaScript number literal.
func JSInt(n int64) template.JS {
	return template.JS(strconv.FormatInt(n, 10))
}
