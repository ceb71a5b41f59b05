package tabhost

import "encoding/json"

// Injected scripts report back through a JSON envelope so that page-side
// failures surface as coded errors instead of opaque eval exceptions.
type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// JSString marshals v as a JS string literal for safe interpolation.
func JSString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeExtractionFailed + `",error_message:String(err && err.message || err)});
}
})()`
}

// WrapJS wraps a script body in an IIFE that returns the JSON envelope.
// The body must end with a `return JSON.stringify({ok:true,data:...})`.
func WrapJS(body string) string { return buildIIFE(false, body) }

// WrapJSAsync is WrapJS for bodies that await.
func WrapJSAsync(body string) string { return buildIIFE(true, body) }
