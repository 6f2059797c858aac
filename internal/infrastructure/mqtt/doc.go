// Package mqtt provides the MQTT transport to the controller's cloud broker.
//
// The broker requires mutual TLS 1.2. LoadTLSConfig builds the TLS
// configuration from three already-issued artifacts (CA certificate, client
// certificate, private key).
//
// A Dialer opens one connection at a time and never reconnects by itself:
// the caller owns the retry policy. Each Conn exposes inbound payloads on an
// ordered channel and signals its end on Done.
//
// Usage:
//
//	dialer, err := mqtt.NewDialer(cfg.Broker, logger)
//	if err != nil {
//	    return err
//	}
//	conn, err := dialer.Dial(ctx)
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	topics := mqtt.Topics{Device: "2a5b3c4d5e6f"}
//	if err := conn.Subscribe(ctx, topics.Status(), 1); err != nil {
//	    return err
//	}
//	for {
//	    select {
//	    case payload := <-conn.Messages():
//	        handle(payload)
//	    case <-conn.Done():
//	        return conn.Err()
//	    }
//	}
package mqtt
