package redis

// Key layout shared by the Redis adapters and the record worker.
const (
	sessionKeyPrefix    = "assessment:session:"
	assessmentKeyPrefix = "assessment:content:"

	// DefaultRecordQueue is the list terminal session records are pushed to.
	DefaultRecordQueue = "assessment:records:queue"
)

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func assessmentKey(assessmentID string) string {
	return assessmentKeyPrefix + assessmentID
}
