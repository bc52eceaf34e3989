package strategy

import (
	"encoding/json"
	"net/http"
)

// offlineDocument is the last-resort shell for page requests. It must stay
// self-contained: no network-fetched sub-resource may be required for it to
// render.
const offlineDocument = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
<style>
body{font-family:system-ui,sans-serif;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0;background:#f5f5f5;color:#333}
main{text-align:center;padding:2rem}
h1{font-size:1.5rem}
button{padding:.5rem 1.5rem;border:1px solid #ccc;border-radius:4px;background:#fff;cursor:pointer}
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>This page has not been cached yet. Reconnect and try again.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`

func offlinePageResponse() *Response {
	return &Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:   []byte(offlineDocument),
	}
}

func offlineAPIResponse() *Response {
	body, _ := json.Marshal(map[string]any{"error": "Offline", "offline": true})
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}
}

func queuedResponse(token string) *Response {
	body, _ := json.Marshal(map[string]any{"queued": true, "token": token})
	return &Response{
		Status: http.StatusAccepted,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   body,
	}
}
