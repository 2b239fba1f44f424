package host

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"notibridge/pkg/logx"
)

// Dial connects to the browser-side companion at addr and wraps the
// connection in a Bridge. Supported schemes:
//
//	unix:///run/notibridge.sock
//	tcp://127.0.0.1:7478
func Dial(ctx context.Context, addr string, timeout time.Duration, log logx.Logger) (*Bridge, error) {
	network, target, err := splitAddr(addr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, target)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", addr, err)
	}
	return NewBridge(ctx, conn, log)
}

func splitAddr(addr string) (network, target string, err error) {
	s := strings.TrimSpace(addr)
	switch {
	case strings.HasPrefix(s, "unix://"):
		return "unix", strings.TrimPrefix(s, "unix://"), nil
	case strings.HasPrefix(s, "tcp://"):
		return "tcp", strings.TrimPrefix(s, "tcp://"), nil
	case s == "":
		return "", "", fmt.Errorf("bridge addr is empty")
	default:
		return "", "", fmt.Errorf("bridge addr %q: expected unix:// or tcp:// scheme", addr)
	}
}
