package reflection

import (
	"strings"
)

const (
	addEventListenerName    = "addEventListener"
	removeEventListenerName = "removeEventListener"
	dispatchEventName       = "dispatchEvent"

	// hidden keys carrying the tags read back by the trampolines
	classTagKey    = "__esbridge_class__"
	instanceTagKey = "__esbridge_instance__"

	getterPrefix = "get "
	setterPrefix = "set "
)

func isEventManagementName(name string) bool {
	switch name {
	case addEventListenerName, removeEventListenerName, dispatchEventName:
		return true
	}
	return false
}

// memberName strips the accessor naming convention ("get x", "set x") from a
// function name, yielding the logical member name.
func memberName(label string) string {
	if name, ok := strings.CutPrefix(label, getterPrefix); ok {
		return name
	}
	if name, ok := strings.CutPrefix(label, setterPrefix); ok {
		return name
	}
	return label
}
