package root

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func newSyslogHook(addr string) (logrus.Hook, error) {
	return nil, fmt.Errorf("syslog is not available on windows")
}
