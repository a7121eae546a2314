package instance

import "os"

// GetID identifies this process in logs. Platform ids win over the hostname.
func GetID() string {
	for _, key := range []string{"PACKFINDERZ_INSTANCE_ID", "DYNO", "K_REVISION"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
