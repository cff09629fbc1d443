package config

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/glucosync/glucosync/pkg/errors"
)

// Overlay keys recognized from the persisted settings store. The set is
// deliberately closed: a key outside it is a configuration error, not a
// silent no-op, so typos in the store surface immediately.
const (
	OverlayKeyEnabled      = "enabled"
	OverlayKeySyncInterval = "sync_interval_minutes"
	OverlayKeyBaseURL      = "base_url"
	OverlayKeyTokenBuffer  = "token_buffer"

	// credentialPrefix marks keys overlaid into Credentials, e.g.
	// "credential.password".
	credentialPrefix = "credential."
)

// ApplyOverlay applies persisted runtime settings over a statically
// loaded ProviderConfig. Unknown keys are rejected. A value that fails
// to parse is logged and skipped, leaving the static value in place, so
// a corrupt store entry degrades a single setting rather than the
// provider.
func ApplyOverlay(pc *ProviderConfig, values map[string]string, logger *zap.Logger) error {
	for key, value := range values {
		switch key {
		case OverlayKeyEnabled:
			enabled, err := strconv.ParseBool(value)
			if err != nil {
				logger.Warn("ignoring unparseable overlay value",
					zap.String("key", key),
					zap.String("value", value),
					zap.Error(err))
				continue
			}
			pc.Enabled = enabled

		case OverlayKeySyncInterval:
			minutes, err := strconv.Atoi(value)
			if err != nil {
				logger.Warn("ignoring unparseable overlay value",
					zap.String("key", key),
					zap.String("value", value),
					zap.Error(err))
				continue
			}
			pc.SyncIntervalMinutes = minutes

		case OverlayKeyBaseURL:
			if value != "" {
				pc.BaseURL = value
			}

		case OverlayKeyTokenBuffer:
			buffer, err := time.ParseDuration(value)
			if err != nil || buffer < 0 {
				logger.Warn("ignoring unparseable overlay value",
					zap.String("key", key),
					zap.String("value", value),
					zap.Error(err))
				continue
			}
			pc.TokenBuffer = buffer

		default:
			if cred, ok := credentialKey(key); ok {
				if pc.Credentials == nil {
					pc.Credentials = make(map[string]string)
				}
				pc.Credentials[cred] = value
				continue
			}
			return errors.Newf(errors.ErrorTypeConfig, "unrecognized overlay key %q for provider %q", key, pc.Name)
		}
	}
	return nil
}

func credentialKey(key string) (string, bool) {
	if len(key) > len(credentialPrefix) && key[:len(credentialPrefix)] == credentialPrefix {
		return key[len(credentialPrefix):], true
	}
	return "", false
}
