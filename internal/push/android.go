package push

import (
	"net/http"
	"strings"

	"github.com/agentworkforce/msgrelay/internal/relay"
	"github.com/rs/zerolog"
)

var invalidRegistrationErrors = []string{"InvalidRegistration", "NotRegistered", "MismatchSenderId"}

// androidOutcome normalizes a C2DM or GCM response. A 200 body mentioning
// "Error" is a failure whose text is forwarded to the client.
func androidOutcome(provider string, resp *formResponse, err error, logger zerolog.Logger) (Result, error) {
	if err != nil {
		logger.Error().Err(err).Str("provider", provider).Msg("push transport error")
		return Result{}, pushNotificationFail()
	}
	if resp.StatusCode == http.StatusInternalServerError {
		logger.Error().Int("status", resp.StatusCode).Str("provider", provider).Msg("push provider internal error")
		return Result{}, pushServiceFail()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Error().Int("status", resp.StatusCode).Str("provider", provider).Msg("push provider http error")
		return Result{}, pushNotificationFail()
	}
	text := string(resp.Body)
	if strings.Contains(text, "Error") {
		kind := relay.ErrPushNotificationFail
		for _, name := range invalidRegistrationErrors {
			if strings.Contains(text, name) {
				kind = relay.ErrInvalidRegistration
				break
			}
		}
		return Result{}, relay.Fail(kind, " %s", text)
	}
	logger.Info().Str("provider", provider).Str("response", text).Msg("push accepted")
	return Result{Provider: provider, Detail: resp.Body, Text: text}, nil
}
