package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
)

// maxCapturedBody bounds how much of a successful reply is kept verbatim.
const maxCapturedBody = 4 << 20

type rawBodyKey struct{}

// rawBody receives the undecoded body of the one upstream call made with its context.
type rawBody struct {
	data []byte
}

func withRawBody(ctx context.Context, rb *rawBody) context.Context {
	return context.WithValue(ctx, rawBodyKey{}, rb)
}

// captureTransport copies successful response bodies into the rawBody found
// on the request context, then hands go-openai an identical reader.
type captureTransport struct {
	base http.RoundTripper
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil {
		return resp, err
	}
	rb, ok := req.Context().Value(rawBodyKey{}).(*rawBody)
	if !ok || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody+1))
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	if len(b) > maxCapturedBody {
		// Too large to keep; replay what was read and stream the rest.
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(b), resp.Body), Closer: resp.Body}
		return resp, nil
	}
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(b))
	rb.data = b
	return resp, nil
}

type replayBody struct {
	io.Reader
	io.Closer
}

// withCapture returns a shallow copy of c whose transport records raw bodies.
func withCapture(c *http.Client) *http.Client {
	if c == nil {
		c = &http.Client{}
	}
	out := *c
	base := out.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	out.Transport = &captureTransport{base: base}
	return &out
}
