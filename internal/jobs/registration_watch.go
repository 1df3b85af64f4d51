package jobs

import (
	"context"
	"log"

	"upc/presence/internal/device"
	"upc/presence/internal/registration"
)

// StartRegistrationWatch forwards reader scans to the registration flow.
// The pub/sub message is only a wake-up; the flow drains the mailbox
// itself, which doubles as the acknowledgement the reader polls for.
func StartRegistrationWatch(ctx context.Context, coordinator *device.Coordinator, flow *registration.Flow) {
	sub := coordinator.SubscribeScans(ctx)
	go func() {
		defer sub.Close()
		channel := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-channel:
				if !ok {
					return
				}
				if err := flow.HandleScan(ctx); err != nil {
					log.Printf("registration watch: handle scan: %v", err)
				}
			}
		}
	}()
}
