package common

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// jobIDCreator hands out timestamp-derived job ids that sort in creation
// order. The millisecond clock is bumped by one whenever two ids are
// requested within the same millisecond, so ids are unique even under burst
// creation.
type jobIDCreator struct {
	mu     sync.Mutex
	lastID int64
}

var jobIDs jobIDCreator

// NewJobID generates a sortable job id of the form "060102-1504-XXXX" where
// the suffix is derived from the millisecond timestamp.
func NewJobID() string {
	return jobIDs.next(time.Now())
}

func (c *jobIDCreator) next(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	millis := now.UnixMilli()
	if millis <= c.lastID {
		millis = c.lastID + 1
	}
	c.lastID = millis

	stamp := time.UnixMilli(millis)
	return fmt.Sprintf("%s-%04X", stamp.Format("060102-1504"), millis%60000)
}

// NewRunID generates a unique task run id with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}

// NewShadowRunID generates a unique shadow run id with the "shadow_" prefix
func NewShadowRunID() string {
	return "shadow_" + uuid.New().String()
}

// NewTokenID generates a unique API token id with the "tk_" prefix
func NewTokenID() string {
	return "tk_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewTokenSecret generates the secret half of an API token
func NewTokenSecret() string {
	return strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
}

// NewScheduleID generates a unique schedule id with the "sched_" prefix
func NewScheduleID() string {
	return "sched_" + uuid.New().String()
}
