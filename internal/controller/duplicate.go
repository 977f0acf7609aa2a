package controller

import (
	"fmt"

	"github.com/ytgrab/ytgrab/internal/task"
)

// checkDuplicate reports whether videoID in targetFormat collides with the
// download history or a live task other than currentTaskID. The returned
// message describes the collision and asks whether to download anyway; the
// returned task is the colliding live task, nil for a history hit.
//
// Caller holds c.mu.
func (c *Controller) checkDuplicate(videoID string, currentTaskID int64, targetFormat string) (bool, string, *task.Task) {
	if videoID == "" {
		return false, "", nil
	}

	if c.history.IsDownloaded(videoID, targetFormat) {
		msg := fmt.Sprintf(
			"This video was already downloaded as %s according to the history. Download again and overwrite?",
			targetFormat)
		return true, msg, nil
	}

	for _, t := range c.tasks {
		if t.ID == currentTaskID || t.VideoID != videoID {
			continue
		}
		if t.Settings.Format != targetFormat || !t.IsActive() {
			continue
		}
		msg := fmt.Sprintf(
			"This video is already in the queue as %s (status: %s). Download again and overwrite?",
			targetFormat, t.Status)
		return true, msg, t
	}

	return false, "", nil
}
