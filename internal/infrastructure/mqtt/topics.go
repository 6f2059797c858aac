package mqtt

import "fmt"

// Controller topic scheme.
//
// Every controller has a status topic it publishes on and a command topic it
// listens on: {prefix}{device}/{direction}/{suffix}
const (
	// TopicPrefix precedes the device hex in every controller topic.
	TopicPrefix = "dontek"

	// TopicSuffix names the controller's register service.
	TopicSuffix = "psw"
)

// Topics builds the topic pair for one controller.
//
// Device is the lowercase hex expansion of the device identifier with the
// checksum removed:
//
//	topics := mqtt.Topics{Device: "2a5b3c4d5e6f"}
//	topics.Status()  // "dontek2a5b3c4d5e6f/status/psw"
//	topics.Command() // "dontek2a5b3c4d5e6f/cmd/psw"
type Topics struct {
	Device string
}

// Status returns the topic the controller publishes replies on.
func (t Topics) Status() string {
	return fmt.Sprintf("%s%s/status/%s", TopicPrefix, t.Device, TopicSuffix)
}

// Command returns the topic the controller accepts commands on.
func (t Topics) Command() string {
	return fmt.Sprintf("%s%s/cmd/%s", TopicPrefix, t.Device, TopicSuffix)
}

// IsZero reports whether no device is set.
func (t Topics) IsZero() bool {
	return t.Device == ""
}
