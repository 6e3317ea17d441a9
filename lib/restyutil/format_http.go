package restyutil

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
)

// MaxDumpedBody bounds every dumped body, profile pages are often several megabytes.
const MaxDumpedBody = 64 * 1024

var redactedHeaders = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
	"Set-Cookie":    true,
	"X-Csrftoken":   true,
}

func writeHeaders(b *strings.Builder, headers http.Header) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range headers[k] {
			if redactedHeaders[http.CanonicalHeaderKey(k)] {
				v = "<redacted>"
			}
			fmt.Fprintf(b, "%s: %s\n", k, v)
		}
	}
}

func writeBody(b *strings.Builder, body []byte) {
	if len(body) == 0 {
		b.WriteString("<EMPTY BODY>\n")
		return
	}
	if len(body) > MaxDumpedBody {
		b.Write(body[:MaxDumpedBody])
		fmt.Fprintf(b, "\n<TRUNCATED %d BYTES>\n", len(body)-MaxDumpedBody)
		return
	}
	b.Write(body)
	b.WriteByte('\n')
}

func requestBody(req *http.Request) []byte {
	if req == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return []byte(fmt.Sprintf("<FAILED TO GET BODY: %s>", err.Error()))
	}
	// GetBody yields a nil reader for requests without a body
	if body == nil {
		return nil
	}
	defer body.Close()
	read, err := io.ReadAll(io.LimitReader(body, MaxDumpedBody+1))
	if err != nil {
		return []byte(fmt.Sprintf("<FAILED TO READ BODY: %s>", err.Error()))
	}
	return read
}

// formatHttpMessage renders an exchange as plain text, credentials are redacted.
func formatHttpMessage(res *resty.Response) string {
	var b strings.Builder

	b.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&b, "%s %s\n\n", res.Request.Method, res.Request.URL)
	writeHeaders(&b, res.Request.Header)
	b.WriteByte('\n')
	writeBody(&b, requestBody(res.Request.RawRequest))

	b.WriteString("\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&b, "%d (%s)\n\n", res.StatusCode(), res.Time())
	writeHeaders(&b, res.Header())
	b.WriteByte('\n')
	writeBody(&b, res.Body())

	return b.String()
}
