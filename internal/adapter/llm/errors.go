package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"

	"bedrock-relay/internal/domain"
)

// mapBedrockError translates AWS API errors into domain sentinels so the
// relay can report a stable error code. Unknown errors keep their chain
// and are tagged as provider errors.
func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}
	if domain.ErrorCodeOf(err) != domain.CodeUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := apiErr.ErrorMessage()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException" ||
			code == "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %w", domain.ErrRateLimit, err)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException" ||
			code == "ExpiredTokenException":
			return fmt.Errorf("%w: %w", domain.ErrAuthInvalid, err)
		case code == "ValidationException" && (strings.Contains(msg, "too long") || strings.Contains(msg, "too many tokens")):
			return fmt.Errorf("%w: %w", domain.ErrContextOverflow, err)
		case code == "ValidationException" || code == "ResourceNotFoundException":
			if strings.Contains(strings.ToLower(msg), "model") {
				return fmt.Errorf("%w: %w", domain.ErrModelInvalid, err)
			}
			return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException" || code == "ModelTimeoutException" ||
			code == "ModelStreamErrorException" || code == "DependencyFailedException" ||
			code == "BadGatewayException":
			return fmt.Errorf("%w: %w", domain.ErrUpstreamUnavailable, err)
		}
	}

	return fmt.Errorf("%w: %w", domain.ErrProviderError, err)
}

// isClientFault reports whether err was caused by the request rather than by
// the upstream service. Such failures do not count against the breaker.
func isClientFault(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrModelInvalid) ||
		errors.Is(err, domain.ErrContextOverflow) ||
		errors.Is(err, context.Canceled)
}
