package ocppmsg

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pazzk-labs/evse-go/pkg/everr"
)

// ConnectorControl is the subset of the connector FSM (pkg/connector)
// the CSMS-initiated handlers below need. Defined here, implemented
// there, to avoid an import cycle between ocppmsg and connector.
type ConnectorControl interface {
	SetAvailability(connectorID int, operative bool) error
	RemoteStart(connectorID int, idTag string) error
	RemoteStop(transactionID int) error
	Unlock(connectorID int) error
}

// ConfigStore is the subset of pkg/config the configuration handlers
// need.
type ConfigStore interface {
	GetConfigurationValue(key string) (value string, readonly bool, ok bool)
	SetConfigurationValue(key, value string) error
	AllConfigurationKeys() []KeyValue
}

// CacheClearer is the subset of pkg/authstore ClearCache needs.
type CacheClearer interface {
	ClearCache()
}

// RegisterStandardHandlers wires the standard CSMS-initiated handlers
// onto a. A nil collaborator simply omits the handlers that depend on
// it, which is useful for adapter-only unit tests.
func RegisterStandardHandlers(a *Adapter, conn ConnectorControl, cfg ConfigStore, cache CacheClearer) {
	if conn != nil {
		a.RegisterHandler(ActionChangeAvailability, changeAvailabilityHandler(conn))
		a.RegisterHandler(ActionRemoteStartTransaction, remoteStartHandler(conn))
		a.RegisterHandler(ActionRemoteStopTransaction, remoteStopHandler(conn))
		a.RegisterHandler(ActionUnlockConnector, unlockConnectorHandler(conn))
	}
	if cfg != nil {
		a.RegisterHandler(ActionChangeConfiguration, changeConfigurationHandler(cfg))
		a.RegisterHandler(ActionGetConfiguration, getConfigurationHandler(cfg))
	}
	if cache != nil {
		a.RegisterHandler(ActionClearCache, clearCacheHandler(cache))
	}
	a.RegisterHandler(ActionDataTransfer, dataTransferHandler())
	a.RegisterHandler(ActionReset, resetHandler())
	a.RegisterHandler(ActionUpdateFirmware, updateFirmwareHandler())
}

func changeAvailabilityHandler(conn ConnectorControl) Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req ChangeAvailabilityReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "ChangeAvailability", err)
		}
		operative := req.Type == "Operative"
		if err := conn.SetAvailability(req.ConnectorID, operative); err != nil {
			return ChangeAvailabilityConf{Status: "Rejected"}, nil
		}
		return ChangeAvailabilityConf{Status: "Accepted"}, nil
	}
}

func remoteStartHandler(conn ConnectorControl) Handler {
	return func(_ context.Context, targetConnector int, payload []byte) (any, error) {
		var req RemoteStartTransactionReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "RemoteStartTransaction", err)
		}
		id := targetConnector
		if req.ConnectorID != nil {
			id = *req.ConnectorID
		}
		if err := conn.RemoteStart(id, req.IDTag); err != nil {
			return RemoteStartTransactionConf{Status: "Rejected"}, nil
		}
		return RemoteStartTransactionConf{Status: "Accepted"}, nil
	}
}

func remoteStopHandler(conn ConnectorControl) Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req RemoteStopTransactionReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "RemoteStopTransaction", err)
		}
		if err := conn.RemoteStop(req.TransactionID); err != nil {
			return RemoteStopTransactionConf{Status: "Rejected"}, nil
		}
		return RemoteStopTransactionConf{Status: "Accepted"}, nil
	}
}

func unlockConnectorHandler(conn ConnectorControl) Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req UnlockConnectorReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "UnlockConnector", err)
		}
		if err := conn.Unlock(req.ConnectorID); err != nil {
			return UnlockConnectorConf{Status: "NotSupported"}, nil
		}
		return UnlockConnectorConf{Status: "Unlocked"}, nil
	}
}

func changeConfigurationHandler(cfg ConfigStore) Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req ChangeConfigurationReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "ChangeConfiguration", err)
		}
		if _, readonly, ok := cfg.GetConfigurationValue(req.Key); ok && readonly {
			return ChangeConfigurationConf{Status: "Rejected"}, nil
		}
		if err := cfg.SetConfigurationValue(req.Key, req.Value); err != nil {
			return ChangeConfigurationConf{Status: "Rejected"}, nil
		}
		return ChangeConfigurationConf{Status: "Accepted"}, nil
	}
}

func getConfigurationHandler(cfg ConfigStore) Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req GetConfigurationReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "GetConfiguration", err)
		}
		if len(req.Key) == 0 {
			return GetConfigurationConf{ConfigurationKey: cfg.AllConfigurationKeys()}, nil
		}

		var known []KeyValue
		var unknown []string
		for _, k := range req.Key {
			val, readonly, ok := cfg.GetConfigurationValue(k)
			if !ok {
				unknown = append(unknown, k)
				continue
			}
			v := val
			known = append(known, KeyValue{Key: k, Readonly: readonly, Value: &v})
		}
		return GetConfigurationConf{ConfigurationKey: known, UnknownKey: unknown}, nil
	}
}

func clearCacheHandler(cache CacheClearer) Handler {
	return func(_ context.Context, _ int, _ []byte) (any, error) {
		cache.ClearCache()
		return ClearCacheConf{Status: "Accepted"}, nil
	}
}

func dataTransferHandler() Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req DataTransferReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "DataTransfer", err)
		}
		return DataTransferConf{Status: "UnknownVendorId"}, nil
	}
}

func resetHandler() Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req ResetReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "Reset", err)
		}
		if req.Type != "Hard" && req.Type != "Soft" {
			return nil, fmt.Errorf("ocppmsg: unknown reset type %q", req.Type)
		}
		return ResetConf{Status: "Accepted"}, nil
	}
}

func updateFirmwareHandler() Handler {
	return func(_ context.Context, _ int, payload []byte) (any, error) {
		var req UpdateFirmwareReq
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, everr.New(everr.ClassProtocol, "UpdateFirmware", err)
		}
		return UpdateFirmwareConf{}, nil
	}
}
