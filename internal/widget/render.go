package widget

import (
	"html/template"
	"io"
)

var scriptTagTmpl = template.Must(template.New("script").Parse(
	`<script src="{{.}}" async></script>
`))

var footerTmpl = template.Must(template.New("footer").Parse(`<script type="text/javascript">
(function () {
	var maxRetries = {{.MaxRetries}};
	var retries = 0;
	function initCalendly() {
		if (window.Calendly) {
			Calendly.initPopupWidget({url: {{.Link}}});
			return;
		}
		if (maxRetries > 0 && retries >= maxRetries) {
			return;
		}
		retries++;
		setTimeout(initCalendly, {{.RetryMs}});
	}
	function schedule() {
		setTimeout(initCalendly, {{.DelayMs}});
	}
	if (document.readyState === "loading") {
		document.addEventListener("DOMContentLoaded", schedule);
	} else {
		schedule();
	}
})();
</script>
`))

var buttonTmpl = template.Must(template.New("button").Parse(
	`<button id="calendly-button" type="button" onclick="openCalendlyPopup(); return false;">{{.Label}}</button>
<script type="text/javascript">
function openCalendlyPopup() {
	Calendly.initPopupWidget({url: {{.Link}}});
	return false;
}
</script>
`))

// RenderScriptTag writes the tag that loads the third-party widget script.
func RenderScriptTag(w io.Writer, scriptURL string) error {
	return scriptTagTmpl.Execute(w, scriptURL)
}

// RenderFooter writes the delayed launcher for p. A negative delay (only
// possible when clamping is disabled) renders nothing.
func RenderFooter(w io.Writer, p Plan) error {
	if p.DelayMillis() < 0 {
		return nil
	}
	return footerTmpl.Execute(w, struct {
		Link       template.JS
		DelayMs    template.JS
		RetryMs    template.JS
		MaxRetries template.JS
	}{
		Link:       JSString(p.Link),
		DelayMs:    JSInt(p.DelayMillis()),
		RetryMs:    JSInt(p.RetryMillis()),
		MaxRetries: JSInt(int64(max(p.MaxRetries, 0))),
	})
}

// RenderButton writes the manual-open button for link.
func RenderButton(w io.Writer, link, label string) error {
	if label == "" {
		label = DefaultButtonLabel
	}
	return buttonTmpl.Execute(w, struct {
		Label string
		Link  template.JS
	}{Label: label, Link: JSString(link)})
}
