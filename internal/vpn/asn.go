package vpn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"time"
)

const asnTimeout = 5 * time.Second

var ErrASNLookup = errors.New("failed to look up as number")

// HTTPASNResolver queries an ip to asn json service. URL must contain an {ip} placeholder and the
// response must carry an as_number field, as served by iptoasn-webservice.
type HTTPASNResolver struct {
	url    string
	client *http.Client
}

func NewHTTPASNResolver(url string) *HTTPASNResolver {
	return &HTTPASNResolver{url: url, client: &http.Client{Timeout: asnTimeout}}
}

func (r *HTTPASNResolver) ASN(ctx context.Context, addr netip.Addr) (uint32, error) {
	req, errReq := http.NewRequestWithContext(ctx, http.MethodGet, strings.ReplaceAll(r.url, "{ip}", addr.String()), nil)
	if errReq != nil {
		return 0, errors.Join(errReq, ErrASNLookup)
	}

	req.Header.Set("Accept", "application/json")

	resp, errResp := r.client.Do(req)
	if errResp != nil {
		return 0, errors.Join(errResp, ErrASNLookup)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	// Unannounced addresses are reported as not found.
	if resp.StatusCode == http.StatusNotFound {
		return 0, nil
	}

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrASNLookup, resp.StatusCode)
	}

	var body struct {
		Announced bool   `json:"announced"`
		ASNumber  uint32 `json:"as_number"`
	}

	if errDecode := json.NewDecoder(resp.Body).Decode(&body); errDecode != nil {
		return 0, errors.Join(errDecode, ErrASNLookup)
	}

	if !body.Announced {
		return 0, nil
	}

	return body.ASNumber, nil
}
