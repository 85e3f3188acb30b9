package eo

import (
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions turns a credentials setting into Google client options.
// The value may be inline service-account JSON or a path to a key file.
// Empty means application default credentials.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
