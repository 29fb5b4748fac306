package transport

import "fmt"

// AllSelector addresses every module.
const AllSelector = "all"

// CommandTopic returns the topic a controller publishes a command to for the
// given selector (a module id, a group label, or AllSelector).
func CommandTopic(selector string) string {
	return fmt.Sprintf("cmd/%s", selector)
}

// StatusTopic returns the topic a module publishes its status envelopes to.
func StatusTopic(moduleID string) string {
	return fmt.Sprintf("status/%s", moduleID)
}

// StatusWildcard is the topic filter the controller subscribes to in order
// to receive every module's status publications.
const StatusWildcard = "status/+"

// ModuleSubscriptions returns the full set of command topics a module with
// the given id and group should be subscribed to: its own id, "all", and its
// group (if non-empty). Spec §4.2.
func ModuleSubscriptions(moduleID, group string) []string {
	topics := []string{CommandTopic(moduleID), CommandTopic(AllSelector)}
	if group != "" {
		topics = append(topics, CommandTopic(group))
	}
	return topics
}
