package hublifetime

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewServerName returns a process-unique server identifier: a host label
// plus a fresh random suffix, generated once at manager construction. The
// random component makes collisions across a cluster overwhelmingly
// unlikely without requiring any coordination.
func NewServerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown-host"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString())
}
