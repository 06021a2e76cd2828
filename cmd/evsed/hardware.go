package main

import "context"

// These collaborators are the hardware/link-layer boundary explicitly
// out of this module's scope: GPIO/PWM drivers, the ADC DMA reader,
// the link-layer manager, NTP, and the websocket transport. evsed wires
// whatever concrete implementation the target board provides; these
// stand in as the minimal real implementations for a host build, where
// "hardware" means no-op or OS-provided equivalents.

type gpioPWM struct{}

func (*gpioPWM) Start(dutyPct float64) {}
func (*gpioPWM) Stop()                 {}

type gpioRelayDriver struct{}

func (*gpioRelayDriver) SetDutyPct(pct int) {}

type adcReader struct{}

func (*adcReader) Read(ctx context.Context, count int) ([]int64, int64, error) {
	codes := make([]int64, count)
	return codes, 3300, nil
}

type netlinkInterface struct{}

func (*netlinkInterface) Start(ctx context.Context) error   { return nil }
func (*netlinkInterface) Stop() error                       { return nil }
func (*netlinkInterface) Enable(ctx context.Context) error   { return nil }
func (*netlinkInterface) Disable() error                     { return nil }
func (*netlinkInterface) Ping(ctx context.Context, target string) error { return nil }

type ntpSyncer struct{}

func (*ntpSyncer) Sync(ctx context.Context) error { return nil }
