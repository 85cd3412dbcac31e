package pubsub

import (
	"fmt"
	"strings"
)

// ChannelFollowChanges carries follow/unfollow events for one target.
const ChannelFollowChanges = "follow:target:%s:changes"

// Event types published on ChannelFollowChanges.
const (
	EventFollowed   = "followed"
	EventUnfollowed = "unfollowed"
)

// FollowChangesChannel returns the channel name for a target's change events.
func FollowChangesChannel(targetID string) string {
	return fmt.Sprintf(ChannelFollowChanges, targetID)
}

// channelToTopicAndKey converts a Redis-style channel to a Kafka topic and message key.
//
//	"follow:target:12345:changes" → topic: "follow-changes", key: "12345"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "target" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + strings.ReplaceAll(parts[3], "_", "-"), parts[2], nil
}
