package cache

import "fmt"

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}

// InFlightKey names the flag held while action runs against target.
func InFlightKey(action, target string) string {
	return fmt.Sprintf("inflight:%s:%s", action, target)
}

// RoleKey names the cached cleaner record for a session subject.
func RoleKey(userID string) string {
	return fmt.Sprintf("role:%s", userID)
}
