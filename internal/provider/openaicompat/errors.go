package openaicompat

import (
	"errors"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ai-gateway/palette-gateway/internal/provider"
)

// translate turns go-openai and transport failures into provider errors.
func translate(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return provider.Wrap(kindForStatus(apiErr.HTTPStatusCode), err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return provider.Wrap(kindForStatus(reqErr.HTTPStatusCode), err)
	}
	return provider.Wrap(provider.Classify(err), err)
}

func kindForStatus(code int) provider.ErrorKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return provider.ErrorAuth
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return provider.ErrorTimeout
	case code == http.StatusTooManyRequests, code >= 500:
		return provider.ErrorNetwork
	case code >= 400:
		return provider.ErrorInvalidRequest
	}
	return provider.ErrorUnknown
}
