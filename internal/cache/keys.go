package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStateKey(handle string) string {
	return fmt.Sprintf("job:%s", handle)
}

func ReportKey(aoiID uuid.UUID) string {
	return fmt.Sprintf("report:%s", aoiID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
