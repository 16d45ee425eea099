package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxTopicLength is the MQTT limit for UTF-8 encoded strings.
const maxTopicLength = 65535

// Wildcard characters reserved in topic filters.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	levelSeparator      = "/"
)

// ValidateTopicName checks a topic used for publishing.
//
// Topic names must be non-empty UTF-8 without NUL characters and must not
// contain the wildcard characters + or #.
//
// Example:
//
//	mqtt.ValidateTopicName("sensors/kitchen") // nil
//	mqtt.ValidateTopicName("sensors/+")       // ErrInvalidTopic
func ValidateTopicName(topic string) error {
	if err := validateTopicString(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, singleLevelWildcard+multiLevelWildcard) {
		return fmt.Errorf("%w: wildcards are not allowed in topic names: %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a topic filter used for subscribing.
//
// Wildcards must occupy a whole level, and # may only appear as the last level:
//
//	sensors/+/temperature   valid
//	sensors/#               valid
//	sensors/kitchen#        invalid
//	sensors/#/temperature   invalid
func ValidateTopicFilter(filter string) error {
	if err := validateTopicString(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level on its own: %q",
					ErrInvalidTopic, multiLevelWildcard, filter)
			}
		}
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return fmt.Errorf("%w: %q must occupy a whole level: %q",
				ErrInvalidTopic, singleLevelWildcard, filter)
		}
	}
	return nil
}

// ValidateQoS checks the QoS level is one of 0, 1 or 2.
func ValidateQoS(qos byte) error {
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

func validateTopicString(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if !utf8.ValidString(topic) {
		return fmt.Errorf("%w: topic is not valid UTF-8", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}
