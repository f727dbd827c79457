package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/Replicated-Crawl-Search/pkg/rpc"
)

// Peers returns a Check that dials every address through connector. It is
// up when all answer, degraded when some do and down when none do. An empty
// address list is degraded.
func Peers(connector rpc.Connector, addrs map[string]string, timeout time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		if len(addrs) == 0 {
			return ComponentHealth{Status: StatusDegraded, Message: "no peers configured"}
		}
		var (
			mu   sync.Mutex
			down []string
			wg   sync.WaitGroup
		)
		for name, addr := range addrs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := resilience.WithTimeout(ctx, timeout, "dial "+name, func(context.Context) error {
					c, err := connector.Connect(addr)
					if err != nil {
						return err
					}
					return c.Close()
				})
				if err != nil {
					mu.Lock()
					down = append(down, name)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		switch {
		case len(down) == 0:
			return ComponentHealth{Status: StatusUp, Message: fmt.Sprintf("%d reachable", len(addrs))}
		case len(down) == len(addrs):
			return ComponentHealth{Status: StatusDown, Message: "none reachable"}
		default:
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("%d/%d reachable, down: %s", len(addrs)-len(down), len(addrs), strings.Join(down, ",")),
			}
		}
	}
}
