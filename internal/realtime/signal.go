package realtime

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

const DefaultCallURL = "https://api.openai.com/v1/realtime"

// HandshakeError is a non-2xx answer to the SDP offer.
type HandshakeError struct {
	Status int
	Body   string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected: %d %s", e.Status, e.Body)
}

// exchangeSDP posts the offer and returns the answer SDP. It never retries.
func exchangeSDP(ctx context.Context, client *http.Client, endpoint, secret, model, offer string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "parse call url")
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(offer))
	if err != nil {
		return "", errors.Wrap(err, "build handshake request")
	}
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "handshake")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, "read handshake answer")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HandshakeError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}
