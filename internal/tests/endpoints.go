package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/auth"
	"github.com/google/go-querystring/query"
	"github.com/stretchr/testify/require"
)

// TestClientIP is the remote address of every request made through Endpoint.
const TestClientIP = "192.0.2.1"

func GetOK(t *testing.T, router http.Handler, path string, body any, credential *auth.Credential, receiver any) {
	t.Helper()

	EndpointReceiver(t, router, http.MethodGet, path, body, http.StatusOK, credential, receiver)
}

func PostOK(t *testing.T, router http.Handler, path string, body any, credential *auth.Credential, receiver any) {
	t.Helper()

	EndpointReceiver(t, router, http.MethodPost, path, body, http.StatusOK, credential, receiver)
}

func PostCreated(t *testing.T, router http.Handler, path string, body any, credential *auth.Credential, receiver any) {
	t.Helper()

	EndpointReceiver(t, router, http.MethodPost, path, body, http.StatusCreated, credential, receiver)
}

func PatchOK(t *testing.T, router http.Handler, path string, body any, credential *auth.Credential, receiver any) {
	t.Helper()

	EndpointReceiver(t, router, http.MethodPatch, path, body, http.StatusOK, credential, receiver)
}

func DeleteNoContent(t *testing.T, router http.Handler, path string, body any, credential *auth.Credential) {
	t.Helper()

	Endpoint(t, router, http.MethodDelete, path, body, http.StatusNoContent, credential)
}

func EndpointReceiver(t *testing.T, router http.Handler, method string,
	path string, body any, expectedStatus int, credential *auth.Credential, receiver any,
) {
	t.Helper()

	resp := Endpoint(t, router, method, path, body, expectedStatus, credential)
	if receiver != nil {
		if err := json.NewDecoder(resp.Body).Decode(receiver); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
}

// Endpoint performs a request against router and checks the response code. Bodies of GET requests are
// sent as query params.
func Endpoint(t *testing.T, router http.Handler, method string, path string, body any,
	expectedStatus int, credential *auth.Credential,
) *httptest.ResponseRecorder {
	t.Helper()

	reqCtx, cancel := context.WithTimeout(t.Context(), time.Second*10)
	defer cancel()

	recorder := httptest.NewRecorder()

	var bodyReader io.Reader
	if body != nil && method != http.MethodGet {
		bodyJSON, errJSON := json.Marshal(body)
		if errJSON != nil {
			t.Fatalf("Failed to encode request: %v", errJSON)
		}

		bodyReader = bytes.NewReader(bodyJSON)
	}

	if body != nil && method == http.MethodGet {
		values, err := query.Values(body)
		if err != nil {
			t.Fatalf("failed to encode values: %v", err)
		}

		path += "?" + values.Encode()
	}

	request, errRequest := http.NewRequestWithContext(reqCtx, method, path, bodyReader)
	if errRequest != nil {
		t.Fatalf("Failed to make request: %v", errRequest)
	}

	request.RemoteAddr = TestClientIP + ":40000"
	request.Header.Set("Content-Type", "application/json")

	if credential != nil {
		request.Header.Set("Authorization", credential.String())
	}

	router.ServeHTTP(recorder, request)

	require.Equal(t, expectedStatus, recorder.Code, "Received invalid response code. method: %s path: %s body: %s",
		method, path, recorder.Body.String())

	return recorder
}
