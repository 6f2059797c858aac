// Package reclaim is a client for Reclaim Energy heat-pump hot water
// controllers reached through the manufacturer's cloud MQTT broker.
//
// The controller exposes a sparse table of 16-bit registers. This package
// provides:
//
//   - Identifier validation: the 17-digit device ID carries a CRC-8 checksum
//     and names the device's MQTT topics
//   - The register map: typed attributes (temperatures, power, boost, mode,
//     timers) bound to register addresses with their decode/encode transforms
//   - DeviceState: an immutable snapshot or single-register delta with typed
//     accessors
//   - Session: one resilient connection that reconnects forever with a
//     fixed delay and delivers every decoded state to an observer
//
// # Usage
//
//	id, err := reclaim.ParseIdentifier(cfg.Device.Identifier, cfg.Device.ChecksumWidth)
//	if err != nil {
//	    return err
//	}
//	session, err := reclaim.NewSession(reclaim.SessionOptions{
//	    Identifier: id,
//	    Dialer:     reclaim.MQTTDialer(dialer),
//	    Logger:     logger,
//	})
//	if err != nil {
//	    return err
//	}
//	session.Connect(func(state reclaim.DeviceState) {
//	    if water, err := state.Float(reclaim.AttrWater); err == nil {
//	        fmt.Printf("water %.1f°C\n", water)
//	    }
//	})
//	defer session.Disconnect()
//
//	session.SetValue(ctx, reclaim.AttrBoost, true)
//
// Attributes missing from a state return ErrAttributeUnavailable. That is
// the normal result for most attributes of a delta and means "no update".
package reclaim
