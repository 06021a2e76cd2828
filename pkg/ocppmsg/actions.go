package ocppmsg

import "time"

// Action names, matching the OCPP 1.6-J action strings this
// lists in its handler dispatch table.
const (
	ActionAuthorize              = "Authorize"
	ActionBootNotification       = "BootNotification"
	ActionChangeAvailability     = "ChangeAvailability"
	ActionChangeConfiguration    = "ChangeConfiguration"
	ActionClearCache             = "ClearCache"
	ActionDataTransfer           = "DataTransfer"
	ActionGetConfiguration       = "GetConfiguration"
	ActionHeartbeat              = "Heartbeat"
	ActionMeterValues            = "MeterValues"
	ActionRemoteStartTransaction = "RemoteStartTransaction"
	ActionRemoteStopTransaction  = "RemoteStopTransaction"
	ActionReset                  = "Reset"
	ActionStartTransaction       = "StartTransaction"
	ActionStatusNotification     = "StatusNotification"
	ActionStopTransaction        = "StopTransaction"
	ActionUnlockConnector        = "UnlockConnector"
	ActionUpdateFirmware         = "UpdateFirmware"
)

// --- Charger-initiated requests and their confirmations ---

type AuthorizeReq struct {
	IDTag string `json:"idTag"`
}

type IDTagInfo struct {
	Status      string     `json:"status"`
	ParentIDTag string     `json:"parentIdTag,omitempty"`
	ExpiryDate  *time.Time `json:"expiryDate,omitempty"`
}

type AuthorizeConf struct {
	IDTagInfo IDTagInfo `json:"idTagInfo"`
}

type BootNotificationReq struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
}

type BootNotificationConf struct {
	Status      string    `json:"status"`
	CurrentTime time.Time `json:"currentTime"`
	Interval    int       `json:"interval"`
}

type HeartbeatReq struct{}

type HeartbeatConf struct {
	CurrentTime time.Time `json:"currentTime"`
}

type StartTransactionReq struct {
	ConnectorID int       `json:"connectorId"`
	IDTag       string    `json:"idTag"`
	MeterStart  int       `json:"meterStart"`
	Timestamp   time.Time `json:"timestamp"`
}

type StartTransactionConf struct {
	TransactionID int       `json:"transactionId"`
	IDTagInfo     IDTagInfo `json:"idTagInfo"`
}

type StopTransactionReq struct {
	TransactionID int       `json:"transactionId"`
	IDTag         string    `json:"idTag,omitempty"`
	MeterStop     int       `json:"meterStop"`
	Timestamp     time.Time `json:"timestamp"`
	Reason        string    `json:"reason,omitempty"`
}

type StopTransactionConf struct {
	IDTagInfo *IDTagInfo `json:"idTagInfo,omitempty"`
}

type SampledValue struct {
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	Measurand string `json:"measurand,omitempty"`
	Unit      string `json:"unit,omitempty"`
}

type MeterValue struct {
	Timestamp    time.Time      `json:"timestamp"`
	SampledValue []SampledValue `json:"sampledValue"`
}

type MeterValuesReq struct {
	ConnectorID   int          `json:"connectorId"`
	TransactionID *int         `json:"transactionId,omitempty"`
	MeterValue    []MeterValue `json:"meterValue"`
}

type StatusNotificationReq struct {
	ConnectorID     int       `json:"connectorId"`
	ErrorCode       string    `json:"errorCode"`
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	Info            string    `json:"info,omitempty"`
	VendorErrorCode string    `json:"vendorErrorCode,omitempty"`
}

// --- CSMS-initiated requests (handled by the adapter's dispatch table) ---

type ChangeAvailabilityReq struct {
	ConnectorID int    `json:"connectorId"`
	Type        string `json:"type"`
}

type ChangeAvailabilityConf struct {
	Status string `json:"status"`
}

type ChangeConfigurationReq struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type ChangeConfigurationConf struct {
	Status string `json:"status"`
}

type ClearCacheReq struct{}

type ClearCacheConf struct {
	Status string `json:"status"`
}

type DataTransferReq struct {
	VendorID  string `json:"vendorId"`
	MessageID string `json:"messageId,omitempty"`
	Data      string `json:"data,omitempty"`
}

type DataTransferConf struct {
	Status string `json:"status"`
	Data   string `json:"data,omitempty"`
}

type KeyValue struct {
	Key      string  `json:"key"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty"`
}

type GetConfigurationReq struct {
	Key []string `json:"key,omitempty"`
}

type GetConfigurationConf struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

type RemoteStartTransactionReq struct {
	ConnectorID *int   `json:"connectorId,omitempty"`
	IDTag       string `json:"idTag"`
}

type RemoteStartTransactionConf struct {
	Status string `json:"status"`
}

type RemoteStopTransactionReq struct {
	TransactionID int `json:"transactionId"`
}

type RemoteStopTransactionConf struct {
	Status string `json:"status"`
}

type ResetReq struct {
	Type string `json:"type"`
}

type ResetConf struct {
	Status string `json:"status"`
}

type UnlockConnectorReq struct {
	ConnectorID int `json:"connectorId"`
}

type UnlockConnectorConf struct {
	Status string `json:"status"`
}

type UpdateFirmwareReq struct {
	Location      string    `json:"location"`
	RetrieveDate  time.Time `json:"retrieveDate"`
	Retries       *int      `json:"retries,omitempty"`
	RetryInterval *int      `json:"retryInterval,omitempty"`
}

type UpdateFirmwareConf struct{}
