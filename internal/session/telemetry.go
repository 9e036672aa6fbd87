package session

import (
	"context"
	"time"

	"github.com/kalkanci/guvenlikkamerasi/internal/power"
	"github.com/kalkanci/guvenlikkamerasi/internal/room"
)

const powerPollInterval = 2 * time.Second

// runTelemetry publishes the device status on start, whenever the power
// source reports a change, and on every tick as a liveness heartbeat.
func (b *Broadcaster) runTelemetry(ctx context.Context) {
	opts := b.s.opts
	b.publishStatus(b.readPower())

	if opts.Power != nil {
		go power.Watch(ctx, opts.Power, powerPollInterval, func(state power.State) {
			b.s.logger.Debug("Power state changed", "level", state.Level, "charging", state.Charging)
			b.publishStatus(state, nil)
		})
	}

	ticker := time.NewTicker(opts.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := b.readPower()
			if err != nil {
				lastOnline := opts.Now().UnixMilli()
				b.s.out.send("heartbeat", func(ctx context.Context) error {
					return b.channel.Heartbeat(ctx, lastOnline)
				})
				continue
			}
			b.publishStatus(state, nil)
		}
	}
}

func (b *Broadcaster) readPower() (power.State, error) {
	if b.s.opts.Power == nil {
		return power.State{}, nil
	}
	state, err := b.s.opts.Power.Read()
	if err != nil {
		b.s.logger.Debug("Failed to read power state", "error", err)
	}
	return state, err
}

func (b *Broadcaster) publishStatus(state power.State, err error) {
	if err != nil {
		state = power.State{}
	}
	status := room.DeviceStatus{
		BatteryLevel: state.Level,
		IsCharging:   state.Charging,
		LastOnline:   b.s.opts.Now().UnixMilli(),
	}
	b.s.out.send("publish status", func(ctx context.Context) error {
		return b.channel.PublishStatus(ctx, status)
	})
}
