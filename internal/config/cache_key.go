package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the key holding the JTI of a student's active token.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("student:%d:session", studentID)
}

// AttemptAnswersKey returns the hash holding a student's autosaved answers, one field per question.
func (r *CacheKeyStruct) AttemptAnswersKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:answers", studentID, testID)
}

// AttemptRemainingKey returns the key holding the remaining seconds reported by the last autosave.
func (r *CacheKeyStruct) AttemptRemainingKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:remaining", studentID, testID)
}

// TestPayloadKey returns the cache key for a test's client-safe question payload.
func (r *CacheKeyStruct) TestPayloadKey(testID string) string {
	return fmt.Sprintf("test:%s:payload", testID)
}

var CacheKey = NewCacheKeyStruct()
