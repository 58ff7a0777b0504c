package protocol

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"liquidity/internal/domain"
)

type wireCommandEnvelope struct {
	RemoteAddress string `msgpack:"remote_address,omitempty"`
	PublicKey     []byte `msgpack:"public_key,omitempty"`
	CorrelationID string `msgpack:"correlation_id"`
	ZoneID        string `msgpack:"zone_id"`
	Command       []byte `msgpack:"command"`
}

func MarshalCommandEnvelope(env ZoneCommandEnvelope) ([]byte, error) {
	command, err := MarshalCommand(env.Command)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(wireCommandEnvelope{
		RemoteAddress: env.RemoteAddress,
		PublicKey:     env.PublicKey,
		CorrelationID: env.CorrelationID,
		ZoneID:        string(env.ZoneID),
		Command:       command,
	})
}

func UnmarshalCommandEnvelope(data []byte) (ZoneCommandEnvelope, error) {
	var w wireCommandEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ZoneCommandEnvelope{}, fmt.Errorf("decode command envelope: %w", err)
	}
	command, err := UnmarshalCommand(w.Command)
	if err != nil {
		return ZoneCommandEnvelope{}, err
	}
	return ZoneCommandEnvelope{
		RemoteAddress: w.RemoteAddress,
		PublicKey:     w.PublicKey,
		CorrelationID: w.CorrelationID,
		ZoneID:        domain.ZoneID(w.ZoneID),
		Command:       command,
	}, nil
}

type wireResponseEnvelope struct {
	CorrelationID string `msgpack:"correlation_id"`
	ZoneID        string `msgpack:"zone_id"`
	Response      []byte `msgpack:"response"`
}

func MarshalResponseEnvelope(env ZoneResponseEnvelope) ([]byte, error) {
	response, err := MarshalResponse(env.Response)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(wireResponseEnvelope{
		CorrelationID: env.CorrelationID,
		ZoneID:        string(env.ZoneID),
		Response:      response,
	})
}

func UnmarshalResponseEnvelope(data []byte) (ZoneResponseEnvelope, error) {
	var w wireResponseEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ZoneResponseEnvelope{}, fmt.Errorf("decode response envelope: %w", err)
	}
	response, err := UnmarshalResponse(w.Response)
	if err != nil {
		return ZoneResponseEnvelope{}, err
	}
	return ZoneResponseEnvelope{
		CorrelationID: w.CorrelationID,
		ZoneID:        domain.ZoneID(w.ZoneID),
		Response:      response,
	}, nil
}

type wireEventEnvelope struct {
	RemoteAddress string `msgpack:"remote_address,omitempty"`
	PublicKey     []byte `msgpack:"public_key,omitempty"`
	Timestamp     int64  `msgpack:"timestamp"`
	Event         []byte `msgpack:"event"`
}

func MarshalEventEnvelope(env ZoneEventEnvelope) ([]byte, error) {
	event, err := MarshalEvent(env.Event)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(wireEventEnvelope{
		RemoteAddress: env.RemoteAddress,
		PublicKey:     env.PublicKey,
		Timestamp:     env.Timestamp,
		Event:         event,
	})
}

func UnmarshalEventEnvelope(data []byte) (ZoneEventEnvelope, error) {
	var w wireEventEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ZoneEventEnvelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	event, err := UnmarshalEvent(w.Event)
	if err != nil {
		return ZoneEventEnvelope{}, err
	}
	return ZoneEventEnvelope{
		RemoteAddress: w.RemoteAddress,
		PublicKey:     w.PublicKey,
		Timestamp:     w.Timestamp,
		Event:         event,
	}, nil
}

type wireNotificationEnvelope struct {
	Origin         string `msgpack:"origin"`
	ZoneID         string `msgpack:"zone_id"`
	SequenceNumber int64  `msgpack:"sequence_number"`
	Notification   []byte `msgpack:"notification"`
}

func MarshalNotificationEnvelope(env ZoneNotificationEnvelope) ([]byte, error) {
	notification, err := MarshalNotification(env.Notification)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(wireNotificationEnvelope{
		Origin:         env.Origin,
		ZoneID:         string(env.ZoneID),
		SequenceNumber: env.SequenceNumber,
		Notification:   notification,
	})
}

func UnmarshalNotificationEnvelope(data []byte) (ZoneNotificationEnvelope, error) {
	var w wireNotificationEnvelope
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ZoneNotificationEnvelope{}, fmt.Errorf("decode notification envelope: %w", err)
	}
	notification, err := UnmarshalNotification(w.Notification)
	if err != nil {
		return ZoneNotificationEnvelope{}, err
	}
	return ZoneNotificationEnvelope{
		Origin:         w.Origin,
		ZoneID:         domain.ZoneID(w.ZoneID),
		SequenceNumber: w.SequenceNumber,
		Notification:   notification,
	}, nil
}

type wireSnapshot struct {
	Zone     *wireZone         `msgpack:"zone"`
	Balances map[string]string `msgpack:"balances"`
}

func MarshalSnapshot(s ZoneSnapshot) ([]byte, error) {
	balances := make(map[string]string, len(s.Balances))
	for id, balance := range s.Balances {
		balances[string(id)] = balance.String()
	}
	return msgpack.Marshal(wireSnapshot{
		Zone:     zoneToWire(s.Zone),
		Balances: balances,
	})
}

func UnmarshalSnapshot(data []byte) (ZoneSnapshot, error) {
	var w wireSnapshot
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return ZoneSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	zone, err := zoneFromWire(w.Zone)
	if err != nil {
		return ZoneSnapshot{}, err
	}
	balances := make(map[domain.AccountID]decimal.Decimal, len(w.Balances))
	for id, raw := range w.Balances {
		balance, err := decimal.NewFromString(raw)
		if err != nil {
			return ZoneSnapshot{}, fmt.Errorf("decode balance %q: %w", raw, err)
		}
		balances[domain.AccountID(id)] = balance
	}
	return ZoneSnapshot{Zone: zone, Balances: balances}, nil
}
