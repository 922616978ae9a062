package businterface

import "fmt"

// FunctionID selects the remote operation of a Request frame. It is
// carried in the first payload byte and echoed in the Response.
type FunctionID = uint8

const (
	FunctionDSMeterAddZone FunctionID = iota
	FunctionDSMeterRemoveZone
	FunctionDSMeterRemoveAllZones
	FunctionDSMeterCountDevInZone
	FunctionDSMeterDevKeyInZone
	FunctionDSMeterGetGroupsSize
	FunctionDSMeterGetZonesSize
	FunctionDSMeterGetZoneIDForInd
	FunctionDSMeterAddToGroup
	FunctionDSMeterRemoveFromGroup
	FunctionGroupAddDeviceToGroup
	FunctionGroupRemoveDeviceFromGroup
	FunctionGroupGetDeviceCount
	FunctionGroupGetDevKeyForInd
	FunctionZoneGetGroupIDForInd
	FunctionDeviceCallScene
	FunctionDeviceSaveScene
	FunctionDeviceUndoScene
	FunctionDeviceIncreaseValue
	FunctionDeviceDecreaseValue
	FunctionDeviceStartDimInc
	FunctionDeviceStartDimDec
	FunctionDeviceEndDim
	FunctionGroupCallScene
	FunctionGroupSaveScene
	FunctionGroupUndoScene
	FunctionGroupIncreaseValue
	FunctionGroupDecreaseValue
	FunctionGroupStartDimInc
	FunctionGroupStartDimDec
	FunctionGroupEndDim
	FunctionDeviceSetZoneID
	FunctionDeviceGetOnOff
	FunctionDeviceGetParameterValue
	FunctionDeviceGetDSID
	FunctionDeviceGetGroups
	FunctionDeviceGetSensorValue
	FunctionDSMeterGetDSID
	FunctionDSMeterGetPowerConsumption
	FunctionDSMeterGetEnergyMeterValue
	FunctionDSMeterGetEnergyLevel
	FunctionDSMeterSetEnergyLevel
	FunctionGetTypeRequest
	FunctionMeterSynchronisation
	FunctionDeviceGetFunctionID
	FunctionDSLinkConfigWrite
	FunctionDSLinkConfigRead
	FunctionDSLinkSendDevice
	FunctionDSLinkSendGroup
	FunctionDSLinkReceive
	EventDSLinkInterrupt
	FunctionZoneAddDevice
	FunctionZoneRemoveDevice
	FunctionDeviceAddToGroup
	FunctionDeviceSetParameterValue
	FunctionGroupGetLastCalledScene
	EventNewDS485Device
	EventLostDS485Device
	EventDeviceReceivedTelegramShort
	EventDeviceReceivedTelegramLong
	EventDeviceReady

	numFunctions
)

var functionNames = [numFunctions]string{
	FunctionDSMeterAddZone:             "DSMeter Add Zone",
	FunctionDSMeterRemoveZone:          "DSMeter Remove Zone",
	FunctionDSMeterRemoveAllZones:      "DSMeter Remove All Zones",
	FunctionDSMeterCountDevInZone:      "DSMeter Count Dev In Zone",
	FunctionDSMeterDevKeyInZone:        "DSMeter Dev Key In Zone",
	FunctionDSMeterGetGroupsSize:       "DSMeter Get Groups Size",
	FunctionDSMeterGetZonesSize:        "DSMeter Get Zones Size",
	FunctionDSMeterGetZoneIDForInd:     "DSMeter Get Zone Id For Index",
	FunctionDSMeterAddToGroup:          "DSMeter Add To Group",
	FunctionDSMeterRemoveFromGroup:     "DSMeter Remove From Group",
	FunctionGroupAddDeviceToGroup:      "Group Add Device",
	FunctionGroupRemoveDeviceFromGroup: "Group Remove Device",
	FunctionGroupGetDeviceCount:        "Group Get Device Count",
	FunctionGroupGetDevKeyForInd:       "Group Get Dev Key For Index",
	FunctionZoneGetGroupIDForInd:       "Zone Get Group ID For Index",
	FunctionDeviceCallScene:            "Device Call Scene",
	FunctionDeviceSaveScene:            "Device Save Scene",
	FunctionDeviceUndoScene:            "Device Undo Scene",
	FunctionDeviceIncreaseValue:        "Device Increase Value",
	FunctionDeviceDecreaseValue:        "Device Decrease Value",
	FunctionDeviceStartDimInc:          "Device Start Dim Inc",
	FunctionDeviceStartDimDec:          "Device Start Dim Dec",
	FunctionDeviceEndDim:               "Device End Dim",
	FunctionGroupCallScene:             "Group Call Scene",
	FunctionGroupSaveScene:             "Group Save Scene",
	FunctionGroupUndoScene:             "Group Undo Scene",
	FunctionGroupIncreaseValue:         "Group Increase Value",
	FunctionGroupDecreaseValue:         "Group Decrease Value",
	FunctionGroupStartDimInc:           "Group Start Dim Inc",
	FunctionGroupStartDimDec:           "Group Start Dim Dec",
	FunctionGroupEndDim:                "Group End Dim",
	FunctionDeviceSetZoneID:            "Device Set ZoneID",
	FunctionDeviceGetOnOff:             "Device Get On Off",
	FunctionDeviceGetParameterValue:    "Device Get Parameter Value",
	FunctionDeviceGetDSID:              "Device Get DSID",
	FunctionDeviceGetGroups:            "Device Get Groups",
	FunctionDeviceGetSensorValue:       "Device Get Sensor Value",
	FunctionDSMeterGetDSID:             "DSMeter Get DSID",
	FunctionDSMeterGetPowerConsumption: "DSMeter Get Power Consumption",
	FunctionDSMeterGetEnergyMeterValue: "DSMeter Get Energy-Meter Value",
	FunctionDSMeterGetEnergyLevel:      "DSMeter Get Energy-Level",
	FunctionDSMeterSetEnergyLevel:      "DSMeter Set Energy-Level",
	FunctionGetTypeRequest:             "Get Type",
	FunctionMeterSynchronisation:       "Meter Synchronization",
	FunctionDeviceGetFunctionID:        "Device Get Function ID",
	FunctionDSLinkConfigWrite:          "dSLink Config Write",
	FunctionDSLinkConfigRead:           "dSLink Config Read",
	FunctionDSLinkSendDevice:           "dSLink Send Device",
	FunctionDSLinkSendGroup:            "dSLink Send Group",
	FunctionDSLinkReceive:              "dSLink Receive",
	EventDSLinkInterrupt:               "dSLink Interrupt",
	FunctionZoneAddDevice:              "Zone Add Device",
	FunctionZoneRemoveDevice:           "Zone Remove Device",
	FunctionDeviceAddToGroup:           "Device Add To Group",
	FunctionDeviceSetParameterValue:    "Device Set Parameter Value",
	FunctionGroupGetLastCalledScene:    "Group Get Last Called Scene",
	EventNewDS485Device:                "New DS485 Device",
	EventLostDS485Device:               "Lost DS485 Device",
	EventDeviceReceivedTelegramShort:   "Telegram Short",
	EventDeviceReceivedTelegramLong:    "Telegram Long",
	EventDeviceReady:                   "Device Ready",
}

// FunctionName returns a readable name for fid.
func FunctionName(fid FunctionID) string {
	if fid < numFunctions {
		return functionNames[fid]
	}
	return fmt.Sprintf("Function(0x%02x)", fid)
}

const (
	// GroupIDStandardMax is the number of standard groups every meter
	// provides.
	GroupIDStandardMax = 15

	// DSLinkSend flags.
	DSLinkSendLastByte  uint8 = 0x01
	DSLinkSendWriteOnly uint8 = 0x02
)
